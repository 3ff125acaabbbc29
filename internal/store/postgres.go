package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mparany/garageops/internal/domain"
)

// Postgres error codes this package cares about.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	pgLockNotAvailable    = "55P03"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(connString string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PGStore{db: pool}, nil
}

func (s *PGStore) Close() {
	s.db.Close()
}

func (s *PGStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (email, name, phone, address, password_hash, capital)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		a.Email, a.Name, a.Phone, a.Address, a.PasswordHash, a.Capital,
	).Scan(&a.ID, &a.CreatedAt)
	if isPgCode(err, pgUniqueViolation) {
		return domain.ErrDuplicateAccount
	}
	return err
}

func (s *PGStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, email, name, phone, address, password_hash, capital, created_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.Name, &a.Phone, &a.Address, &a.PasswordHash, &a.Capital, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, email, name, phone, address, password_hash, capital, created_at
		 FROM accounts WHERE email = $1`, email,
	).Scan(&a.ID, &a.Email, &a.Name, &a.Phone, &a.Address, &a.PasswordHash, &a.Capital, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	var owner any
	if v.OwnerID != 0 {
		owner = v.OwnerID
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO vehicles (make, model, year, plate, owner_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		v.Make, v.Model, v.Year, v.Plate, owner,
	).Scan(&v.ID, &v.CreatedAt)
	if isPgCode(err, pgForeignKeyViolation) {
		return domain.ErrAccountNotFound
	}
	return err
}

func (s *PGStore) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, make, model, year, plate, COALESCE(owner_id, 0), created_at
		 FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := []domain.Vehicle{}
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Make, &v.Model, &v.Year, &v.Plate, &v.OwnerID, &v.CreatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *PGStore) CreateIssue(ctx context.Context, is *domain.Issue) error {
	if is.Status == "" {
		is.Status = domain.StatusPending
	}
	var repairType any
	if is.RepairTypeID != 0 {
		repairType = is.RepairTypeID
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO issues (vehicle_id, repair_type_id, description, severity, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		is.VehicleID, repairType, is.Description, is.Severity, is.Status,
	).Scan(&is.ID, &is.CreatedAt)
	if isPgCode(err, pgForeignKeyViolation) {
		return domain.ErrVehicleNotFound
	}
	return err
}

func (s *PGStore) UpdateIssueStatus(ctx context.Context, issueID int64, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE issues SET status = $1 WHERE id = $2`, status, issueID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIssueNotFound
	}
	return nil
}

func (s *PGStore) ListRepairTypes(ctx context.Context) ([]domain.RepairType, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, description, price, duration FROM repair_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []domain.RepairType{}
	for rows.Next() {
		var rt domain.RepairType
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Description, &rt.Price, &rt.Duration); err != nil {
			return nil, err
		}
		types = append(types, rt)
	}
	return types, rows.Err()
}

func (s *PGStore) ListEligibleCharges(ctx context.Context, accountID int64) ([]domain.EligibleCharge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT i.id, v.id, v.make, v.model, rt.id, rt.name, i.description, rt.price, i.status
		 FROM issues i
		 JOIN vehicles v ON v.id = i.vehicle_id
		 JOIN repair_types rt ON rt.id = i.repair_type_id
		 WHERE v.owner_id = $1
		   AND i.status = $2
		   AND NOT EXISTS (
		       SELECT 1 FROM payments p
		       WHERE p.issue_id = i.id AND p.status = 'completed')
		 ORDER BY i.id`,
		accountID, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	charges := []domain.EligibleCharge{}
	for rows.Next() {
		var c domain.EligibleCharge
		if err := rows.Scan(&c.IssueID, &c.VehicleID, &c.Make, &c.Model,
			&c.RepairTypeID, &c.RepairType, &c.Description, &c.Price, &c.Status); err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func (s *PGStore) ListIssueStates(ctx context.Context, accountID int64) ([]domain.IssueState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT i.id, i.status, COALESCE(rt.name, '')
		 FROM issues i
		 JOIN vehicles v ON v.id = i.vehicle_id
		 LEFT JOIN repair_types rt ON rt.id = i.repair_type_id
		 WHERE v.owner_id = $1
		 ORDER BY i.id`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := []domain.IssueState{}
	for rows.Next() {
		var st domain.IssueState
		if err := rows.Scan(&st.IssueID, &st.Status, &st.RepairType); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// txError maps lock and serialization failures to the retryable conflict
// sentinel; everything else passes through.
func txError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFail, pgDeadlockDetected, pgLockNotAvailable:
			return domain.ErrTxConflict
		}
	}
	return err
}
