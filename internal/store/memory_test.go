package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mparany/garageops/internal/domain"
)

// seedAccount creates an account with a vehicle, a repair type, and one
// issue in the given status. Returns the ids.
func seedAccount(t *testing.T, s *MemStore, capital, price float64, issueStatus string) (accountID, issueID int64) {
	t.Helper()
	ctx := context.Background()

	acct := &domain.Account{Email: "c@garage.local", Name: "C", PasswordHash: "x", Capital: capital}
	require.NoError(t, s.CreateAccount(ctx, acct))

	v := &domain.Vehicle{Make: "Peugeot", Model: "208", Year: 2018, OwnerID: acct.ID}
	require.NoError(t, s.CreateVehicle(ctx, v))

	rt := &domain.RepairType{Name: "Brake pads", Price: price}
	s.AddRepairType(rt)

	is := &domain.Issue{VehicleID: v.ID, RepairTypeID: rt.ID, Description: "squealing", Status: issueStatus}
	require.NoError(t, s.CreateIssue(ctx, is))

	return acct.ID, is.ID
}

func TestChargeInsufficientFundsLeavesBalance(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, _ := seedAccount(t, s, 100, 150, domain.StatusCompleted)

	_, err := s.Charge(ctx, domain.ChargeParams{AccountID: accountID, Amount: 250})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	acct, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, acct.Capital)
}

func TestChargeDebitsAndMarksIssuePaid(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, issueID := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	before, err := s.ListEligibleCharges(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, 150.0, before[0].Price)

	result, err := s.Charge(ctx, domain.ChargeParams{AccountID: accountID, IssueID: &issueID, Amount: 150})
	require.NoError(t, err)
	assert.Equal(t, 350.0, result.NewCapital)
	assert.Equal(t, 150.0, result.Payment.Amount)
	assert.Equal(t, domain.StatusCompleted, result.Payment.Status)
	require.NotNil(t, result.Payment.IssueID)
	assert.Equal(t, issueID, *result.Payment.IssueID)

	after, err := s.ListEligibleCharges(ctx, accountID)
	require.NoError(t, err)
	assert.Empty(t, after)

	acct, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 350.0, acct.Capital)
}

func TestChargeUsesCatalogPriceNotRequestedAmount(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, issueID := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	// The caller asks for 1; the catalog price wins.
	result, err := s.Charge(ctx, domain.ChargeParams{AccountID: accountID, IssueID: &issueID, Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, 150.0, result.Payment.Amount)
	assert.Equal(t, 350.0, result.NewCapital)
}

func TestChargeRejectsNonCompletedIssue(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, issueID := seedAccount(t, s, 500, 150, domain.StatusPending)

	_, err := s.Charge(ctx, domain.ChargeParams{AccountID: accountID, IssueID: &issueID})
	require.ErrorIs(t, err, domain.ErrIssueNotPayable)
}

func TestChargeIssueAtMostOnce(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, issueID := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	_, err := s.Charge(ctx, domain.ChargeParams{AccountID: accountID, IssueID: &issueID})
	require.NoError(t, err)

	// Re-submission of the same issue: the in-transaction eligibility check
	// rejects it, leaving the balance alone.
	_, err = s.Charge(ctx, domain.ChargeParams{AccountID: accountID, IssueID: &issueID})
	require.ErrorIs(t, err, domain.ErrIssueNotPayable)

	acct, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 350.0, acct.Capital)
}

func TestChargeUnknownAccountAndIssue(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, _ := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	_, err := s.Charge(ctx, domain.ChargeParams{AccountID: 999, Amount: 10})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	missing := int64(999)
	_, err = s.Charge(ctx, domain.ChargeParams{AccountID: accountID, IssueID: &missing})
	require.ErrorIs(t, err, domain.ErrIssueNotFound)
}

func TestChargeDoesNotSeeForeignIssues(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_, issueID := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	other := &domain.Account{Email: "other@garage.local", Name: "O", PasswordHash: "x", Capital: 500}
	require.NoError(t, s.CreateAccount(ctx, other))

	_, err := s.Charge(ctx, domain.ChargeParams{AccountID: other.ID, IssueID: &issueID})
	require.ErrorIs(t, err, domain.ErrIssueNotFound)
}

func TestEligibleChargesIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, _ := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	first, err := s.ListEligibleCharges(ctx, accountID)
	require.NoError(t, err)
	second, err := s.ListEligibleCharges(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEligibleChargesEmptyForUnknownAccount(t *testing.T) {
	s := NewMemStore()
	charges, err := s.ListEligibleCharges(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, charges)
}

func TestConcurrentChargesNeverOverdraw(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, _ := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	// 300 + 300 > 500: exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Charge(ctx, domain.ChargeParams{AccountID: accountID, Amount: 300})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case err == domain.ErrInsufficientFunds:
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	acct, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, acct.Capital)
	assert.GreaterOrEqual(t, acct.Capital, 0.0)
}

func TestChargeIdempotencyReplay(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	accountID, _ := seedAccount(t, s, 500, 150, domain.StatusCompleted)

	params := domain.ChargeParams{
		AccountID:      accountID,
		Amount:         100,
		IdempotencyKey: "key-1",
		RequestHash:    "hash-1",
	}
	first, err := s.Charge(ctx, params)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, 400.0, first.NewCapital)

	// Same key, same payload: replayed, no second debit.
	second, err := s.Charge(ctx, params)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.NotEmpty(t, second.ReplayedBody)

	acct, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 400.0, acct.Capital)

	// Same key, different payload: rejected.
	params.RequestHash = "hash-2"
	_, err = s.Charge(ctx, params)
	require.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	a := &domain.Account{Email: "dup@garage.local", Name: "A", PasswordHash: "x"}
	require.NoError(t, s.CreateAccount(ctx, a))

	b := &domain.Account{Email: "dup@garage.local", Name: "B", PasswordHash: "x"}
	require.ErrorIs(t, s.CreateAccount(ctx, b), domain.ErrDuplicateAccount)
}
