package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mparany/garageops/internal/domain"
)

// Charge executes the balance debit as a single transaction.
//
// Locking contract: the account row is taken FOR UPDATE, so concurrent
// charges against the same account BLOCK until the holder commits or rolls
// back; charges against different accounts proceed in parallel. Lock and
// serialization failures come back as domain.ErrTxConflict and are safe to
// retry.
func (s *PGStore) Charge(ctx context.Context, p domain.ChargeParams) (*domain.ChargeResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Idempotency check + reservation (only when the caller sent a key)
	if p.IdempotencyKey != "" {
		var storedStatus sql.NullInt32
		var storedBody []byte
		var storedHash string
		err = tx.QueryRow(ctx,
			"SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE key = $1",
			p.IdempotencyKey,
		).Scan(&storedStatus, &storedBody, &storedHash)

		if err == nil {
			if storedHash != p.RequestHash {
				return nil, domain.ErrIdempotencyMismatch
			}
			if !storedStatus.Valid {
				// Reserved by an in-flight request that has not finished.
				return nil, domain.ErrIdempotencyConflict
			}
			return &domain.ChargeResult{
				Replayed:       true,
				ReplayedBody:   json.RawMessage(storedBody),
				ReplayedStatus: int(storedStatus.Int32),
			}, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("idempotency query failed: %w", err)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress')",
			p.IdempotencyKey, p.RequestHash,
		)
		if err != nil {
			if isPgCode(err, pgUniqueViolation) {
				return nil, domain.ErrIdempotencyConflict
			}
			return nil, fmt.Errorf("key reservation failed: %w", err)
		}
	}

	// 2. Exclusive access to the account balance
	var capital float64
	err = tx.QueryRow(ctx, "SELECT capital FROM accounts WHERE id = $1 FOR UPDATE", p.AccountID).Scan(&capital)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, txError(fmt.Errorf("lock acquisition failed: %w", err))
	}

	// 3. Re-validate issue eligibility under the lock; the amount charged is
	// the catalog price at charge time, not whatever the caller asked for.
	amount := p.Amount
	if p.IssueID != nil {
		var status string
		var price float64
		err = tx.QueryRow(ctx,
			`SELECT i.status, rt.price
			 FROM issues i
			 JOIN vehicles v ON v.id = i.vehicle_id
			 JOIN repair_types rt ON rt.id = i.repair_type_id
			 WHERE i.id = $1 AND v.owner_id = $2
			 FOR UPDATE OF i`,
			*p.IssueID, p.AccountID,
		).Scan(&status, &price)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrIssueNotFound
			}
			return nil, txError(err)
		}
		if status != domain.StatusCompleted {
			return nil, domain.ErrIssueNotPayable
		}

		var alreadyPaid bool
		err = tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM payments WHERE issue_id = $1 AND status = 'completed')",
			*p.IssueID,
		).Scan(&alreadyPaid)
		if err != nil {
			return nil, err
		}
		if alreadyPaid {
			return nil, domain.ErrIssueNotPayable
		}
		amount = price
	}

	// 4. Funds check
	if capital < amount {
		return nil, domain.ErrInsufficientFunds
	}

	// 5. Debit + payment record + issue transition
	_, err = tx.Exec(ctx, "UPDATE accounts SET capital = capital - $1 WHERE id = $2", amount, p.AccountID)
	if err != nil {
		return nil, txError(err)
	}

	method := p.Method
	if method == "" {
		method = domain.DefaultPaymentMethod
	}
	payment := domain.Payment{
		ID:        uuid.New(),
		AccountID: p.AccountID,
		IssueID:   p.IssueID,
		Amount:    amount,
		Method:    method,
		Status:    domain.StatusCompleted,
		CreatedAt: time.Now(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO payments (id, account_id, issue_id, amount, method, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		payment.ID, payment.AccountID, payment.IssueID, payment.Amount, payment.Method, payment.Status, payment.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("payment insert failed: %w", err)
	}

	if p.IssueID != nil {
		_, err = tx.Exec(ctx, "UPDATE issues SET status = $1 WHERE id = $2", domain.StatusPaid, *p.IssueID)
		if err != nil {
			return nil, txError(err)
		}
	}

	// 6. Finalize idempotency & commit
	result := &domain.ChargeResult{
		Payment:    payment,
		NewCapital: capital - amount,
	}

	if p.IdempotencyKey != "" {
		respBody, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx,
			"UPDATE idempotency_keys SET status = 'completed', payment_id = $1, response_status = $2, response_body = $3 WHERE key = $4",
			payment.ID, http.StatusOK, respBody, p.IdempotencyKey,
		)
		if err != nil {
			return nil, fmt.Errorf("idempotency update failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, txError(fmt.Errorf("tx commit failed: %w", err))
	}

	return result, nil
}
