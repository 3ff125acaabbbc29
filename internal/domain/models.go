package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Issue statuses. The workshop flips an issue to StatusCompleted outside this
// service; the charge transaction flips it to StatusPaid.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusPaid       = "paid"
)

// DefaultPaymentMethod is used when the caller does not name one.
const DefaultPaymentMethod = "capital"

// StartingCapital is credited to every account at registration.
const StartingCapital = 500

// Account represents a customer and their spendable capital balance.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	PasswordHash string    `json:"-"`
	Capital      float64   `json:"capital"`
	CreatedAt    time.Time `json:"created_at"`
}

// Vehicle belongs to an account and is immutable after creation.
type Vehicle struct {
	ID        int64     `json:"id"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	Plate     string    `json:"plate,omitempty"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RepairType is a read-only catalog entry. Its Price is the amount charged
// when an issue referencing it is paid, read at charge time.
type RepairType struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Duration    string  `json:"duration,omitempty"`
}

// Issue is a reported vehicle problem.
type Issue struct {
	ID           int64     `json:"id"`
	VehicleID    int64     `json:"vehicle_id"`
	RepairTypeID int64     `json:"repair_type_id,omitempty"`
	Description  string    `json:"description"`
	Severity     string    `json:"severity,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payment is the immutable record of a successful debit.
type Payment struct {
	ID        uuid.UUID `json:"id"`
	AccountID int64     `json:"account_id"`
	IssueID   *int64    `json:"issue_id,omitempty"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// EligibleCharge is one row of the payable-issues listing: a completed,
// not-yet-paid issue joined with its vehicle and the current catalog price.
type EligibleCharge struct {
	IssueID      int64   `json:"issue_id"`
	VehicleID    int64   `json:"vehicle_id"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	RepairTypeID int64   `json:"repair_type_id"`
	RepairType   string  `json:"repair_type"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	Status       string  `json:"status"`
}

// IssueState is the slim snapshot the status watcher polls.
type IssueState struct {
	IssueID    int64
	Status     string
	RepairType string
}

// ChargeParams are the inputs of the debit transaction. IssueID is optional:
// without it the charge is a plain capital debit of Amount; with it the
// amount charged is the issue's current catalog price.
type ChargeParams struct {
	AccountID      int64
	IssueID        *int64
	Amount         float64
	Method         string
	IdempotencyKey string
	RequestHash    string
}

// ChargeResult carries the created payment and the post-debit balance.
// Replayed is set when an idempotency key matched an already finished
// request; the stored response is returned verbatim.
type ChargeResult struct {
	Payment    Payment `json:"payment"`
	NewCapital float64 `json:"new_capital"`

	Replayed       bool            `json:"-"`
	ReplayedBody   json.RawMessage `json:"-"`
	ReplayedStatus int             `json:"-"`
}
