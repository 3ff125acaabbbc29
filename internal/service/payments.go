package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mparany/garageops/internal/domain"
	"github.com/mparany/garageops/internal/store"
)

// ErrInvalidAmount rejects non-positive issue-less charges before any
// datastore work.
var ErrInvalidAmount = errors.New("amount must be positive")

// PaymentService fronts the debit transaction and the payable-issues query.
type PaymentService struct {
	store store.Store
}

func NewPaymentService(s store.Store) *PaymentService {
	return &PaymentService{store: s}
}

// Charge validates inputs and runs the atomic debit. For issue-backed
// charges the store decides the amount from the current catalog price, so
// only issue-less charges need an amount here.
func (s *PaymentService) Charge(ctx context.Context, p domain.ChargeParams) (*domain.ChargeResult, error) {
	if p.IssueID == nil && p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	result, err := s.store.Charge(ctx, p)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"account_id": p.AccountID,
			"issue_id":   p.IssueID,
			"amount":     p.Amount,
			"error":      err.Error(),
		}).Warn("charge rejected")
		return nil, err
	}

	if result.Replayed {
		logrus.WithFields(logrus.Fields{
			"account_id": p.AccountID,
			"key":        p.IdempotencyKey,
		}).Info("charge replayed from idempotency record")
		return result, nil
	}

	logrus.WithFields(logrus.Fields{
		"account_id":  p.AccountID,
		"payment_id":  result.Payment.ID,
		"issue_id":    p.IssueID,
		"amount":      result.Payment.Amount,
		"new_capital": result.NewCapital,
	}).Info("charge completed")

	return result, nil
}

// EligibleCharges lists the completed, unpaid issues an account can pay for.
func (s *PaymentService) EligibleCharges(ctx context.Context, accountID int64) ([]domain.EligibleCharge, error) {
	return s.store.ListEligibleCharges(ctx, accountID)
}
