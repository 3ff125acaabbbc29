package store

import (
	"context"

	"github.com/mparany/garageops/internal/domain"
)

// Store is the persistence contract. The service layer only ever sees this
// interface; the composition root decides which implementation backs it.
type Store interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)

	CreateVehicle(ctx context.Context, v *domain.Vehicle) error
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)

	CreateIssue(ctx context.Context, is *domain.Issue) error
	UpdateIssueStatus(ctx context.Context, issueID int64, status string) error

	ListRepairTypes(ctx context.Context) ([]domain.RepairType, error)

	// ListEligibleCharges returns every completed, not-yet-paid issue owned
	// (via a vehicle) by the account, with the current catalog price.
	// Read-only; returns an empty slice when nothing is payable.
	ListEligibleCharges(ctx context.Context, accountID int64) ([]domain.EligibleCharge, error)

	// ListIssueStates returns the slim per-account snapshot the status
	// watcher polls.
	ListIssueStates(ctx context.Context, accountID int64) ([]domain.IssueState, error)

	// Charge runs the atomic balance debit. See the postgres implementation
	// for the locking contract.
	Charge(ctx context.Context, p domain.ChargeParams) (*domain.ChargeResult, error)
}
