package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/store"
)

func TestChargeRejectsNonPositiveAmount(t *testing.T) {
	svc := NewPaymentService(store.NewMemStore())

	_, err := svc.Charge(context.Background(), domain.ChargeParams{AccountID: 1, Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Charge(context.Background(), domain.ChargeParams{AccountID: 1, Amount: -5})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestChargePassesThroughToStore(t *testing.T) {
	s := store.NewMemStore()
	svc := NewPaymentService(s)
	ctx := context.Background()

	acct := &domain.Account{Email: "p@garage.local", Name: "P", PasswordHash: "x", Capital: 500}
	require.NoError(t, s.CreateAccount(ctx, acct))

	result, err := svc.Charge(ctx, domain.ChargeParams{AccountID: acct.ID, Amount: 120})
	require.NoError(t, err)
	assert.Equal(t, 380.0, result.NewCapital)
	assert.Equal(t, domain.DefaultPaymentMethod, result.Payment.Method)
}

func TestEligibleChargesEmptyByDefault(t *testing.T) {
	s := store.NewMemStore()
	svc := NewPaymentService(s)
	ctx := context.Background()

	acct := &domain.Account{Email: "p@garage.local", Name: "P", PasswordHash: "x", Capital: 500}
	require.NoError(t, s.CreateAccount(ctx, acct))

	charges, err := svc.EligibleCharges(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, charges)
}
