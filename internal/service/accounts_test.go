package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mparany/garageops/internal/auth"
	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/store"
)

const testSecret = "test-secret"

func TestRegisterStartsWithFixedCapital(t *testing.T) {
	svc := NewAccountService(store.NewMemStore(), testSecret)

	acct, err := svc.Register(context.Background(), RegisterParams{
		Email:    "Anna@Garage.Local",
		Password: "secret123",
		Name:     "Anna",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(domain.StartingCapital), acct.Capital)
	assert.Equal(t, "anna@garage.local", acct.Email)
	assert.NotEqual(t, "secret123", acct.PasswordHash)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc := NewAccountService(store.NewMemStore(), testSecret)

	_, err := svc.Register(context.Background(), RegisterParams{
		Email:    "a@garage.local",
		Password: "abc",
		Name:     "A",
	})
	require.ErrorIs(t, err, domain.ErrWeakCredential)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewAccountService(store.NewMemStore(), testSecret)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterParams{Email: "a@garage.local", Password: "secret123", Name: "A"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterParams{Email: "a@garage.local", Password: "other456", Name: "B"})
	require.ErrorIs(t, err, domain.ErrDuplicateAccount)
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc := NewAccountService(store.NewMemStore(), testSecret)
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterParams{Email: "a@garage.local", Password: "secret123", Name: "A"})
	require.NoError(t, err)

	acct, token, err := svc.Login(ctx, "a@garage.local", "secret123")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, acct.ID)

	claims, err := auth.ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.AccountID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewAccountService(store.NewMemStore(), testSecret)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterParams{Email: "a@garage.local", Password: "secret123", Name: "A"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "a@garage.local", "wrong-pass")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@garage.local", "secret123")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}
