package domain

import "errors"

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrVehicleNotFound indicates the referenced vehicle does not exist.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrIssueNotFound indicates the referenced issue does not exist or is
	// not owned by the charged account.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrIssueNotPayable indicates the issue is not completed, or already
	// has a completed payment.
	ErrIssueNotPayable = errors.New("issue not payable")
	// ErrInsufficientFunds indicates the account capital does not cover the
	// requested amount. Nothing was mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTxConflict indicates the debit lost a lock or serialization race.
	// Callers should retry with backoff.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrDuplicateAccount indicates the email is already registered.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrWeakCredential indicates the password failed the provider policy.
	ErrWeakCredential = errors.New("password too weak")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIdempotencyConflict indicates a request with the same key is still
	// in progress.
	ErrIdempotencyConflict = errors.New("request in progress")
	// ErrIdempotencyMismatch indicates key reuse with a different payload.
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)
