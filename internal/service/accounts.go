package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mparany/garageops/internal/auth"
	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/store"
)

// AccountService handles registration and login against the external
// credential policy.
type AccountService struct {
	store     store.Store
	jwtSecret string
}

func NewAccountService(s store.Store, jwtSecret string) *AccountService {
	return &AccountService{store: s, jwtSecret: jwtSecret}
}

// RegisterParams are the caller-provided account fields.
type RegisterParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// Register provisions an account with the fixed starting capital.
func (s *AccountService) Register(ctx context.Context, p RegisterParams) (*domain.Account, error) {
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	acct := &domain.Account{
		Email:        p.Email,
		Name:         p.Name,
		Phone:        p.Phone,
		Address:      p.Address,
		PasswordHash: hash,
		Capital:      domain.StartingCapital,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"account_id": acct.ID,
		"email":      acct.Email,
		"capital":    acct.Capital,
	}).Info("account registered")

	return acct, nil
}

// Login verifies the credential and issues a session token.
func (s *AccountService) Login(ctx context.Context, email, password string) (*domain.Account, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if err == domain.ErrAccountNotFound {
			return nil, "", domain.ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !auth.CheckPassword(acct.PasswordHash, password) {
		return nil, "", domain.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(acct.ID, s.jwtSecret)
	if err != nil {
		return nil, "", err
	}
	return acct, token, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}
