package store

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mparany/garageops/internal/domain"
)

// MemStore is an in-memory Store used by unit tests and local development.
// It honors the same contract as PGStore: per-account mutual exclusion for
// Charge (concurrent debits against one account block), everything else
// guarded by a single RWMutex.
type MemStore struct {
	mu          sync.RWMutex
	accounts    map[int64]*domain.Account
	vehicles    map[int64]*domain.Vehicle
	issues      map[int64]*domain.Issue
	repairTypes map[int64]*domain.RepairType
	payments    map[uuid.UUID]*domain.Payment
	idem        map[string]*idemRecord

	lockMu    sync.Mutex
	acctLocks map[int64]*sync.Mutex

	nextAccount    int64
	nextVehicle    int64
	nextIssue      int64
	nextRepairType int64
}

type idemRecord struct {
	requestHash    string
	done           bool
	responseStatus int
	responseBody   []byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts:    map[int64]*domain.Account{},
		vehicles:    map[int64]*domain.Vehicle{},
		issues:      map[int64]*domain.Issue{},
		repairTypes: map[int64]*domain.RepairType{},
		payments:    map[uuid.UUID]*domain.Payment{},
		idem:        map[string]*idemRecord{},
		acctLocks:   map[int64]*sync.Mutex{},
	}
}

func (s *MemStore) accountLock(id int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.acctLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.acctLocks[id] = l
	}
	return l
}

func (s *MemStore) CreateAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return domain.ErrDuplicateAccount
		}
	}
	s.nextAccount++
	a.ID = s.nextAccount
	a.CreatedAt = time.Now()
	clone := *a
	s.accounts[a.ID] = &clone
	return nil
}

func (s *MemStore) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *MemStore) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Email == email {
			clone := *a
			return &clone, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *MemStore) CreateVehicle(_ context.Context, v *domain.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.OwnerID != 0 {
		if _, ok := s.accounts[v.OwnerID]; !ok {
			return domain.ErrAccountNotFound
		}
	}
	s.nextVehicle++
	v.ID = s.nextVehicle
	v.CreatedAt = time.Now()
	clone := *v
	s.vehicles[v.ID] = &clone
	return nil
}

func (s *MemStore) ListVehicles(_ context.Context) ([]domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vehicles := []domain.Vehicle{}
	for _, v := range s.vehicles {
		vehicles = append(vehicles, *v)
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })
	return vehicles, nil
}

func (s *MemStore) CreateIssue(_ context.Context, is *domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[is.VehicleID]; !ok {
		return domain.ErrVehicleNotFound
	}
	if is.Status == "" {
		is.Status = domain.StatusPending
	}
	s.nextIssue++
	is.ID = s.nextIssue
	is.CreatedAt = time.Now()
	clone := *is
	s.issues[is.ID] = &clone
	return nil
}

func (s *MemStore) UpdateIssueStatus(_ context.Context, issueID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[issueID]
	if !ok {
		return domain.ErrIssueNotFound
	}
	is.Status = status
	return nil
}

// AddRepairType seeds a catalog entry. Not part of the Store interface; the
// catalog is reference data loaded out of band.
func (s *MemStore) AddRepairType(rt *domain.RepairType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRepairType++
	rt.ID = s.nextRepairType
	clone := *rt
	s.repairTypes[rt.ID] = &clone
}

func (s *MemStore) ListRepairTypes(_ context.Context) ([]domain.RepairType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := []domain.RepairType{}
	for _, rt := range s.repairTypes {
		types = append(types, *rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
	return types, nil
}

func (s *MemStore) ListEligibleCharges(_ context.Context, accountID int64) ([]domain.EligibleCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eligibleChargesLocked(accountID), nil
}

func (s *MemStore) eligibleChargesLocked(accountID int64) []domain.EligibleCharge {
	charges := []domain.EligibleCharge{}
	for _, is := range s.issues {
		if is.Status != domain.StatusCompleted {
			continue
		}
		v, ok := s.vehicles[is.VehicleID]
		if !ok || v.OwnerID != accountID {
			continue
		}
		rt, ok := s.repairTypes[is.RepairTypeID]
		if !ok {
			continue
		}
		if s.issuePaidLocked(is.ID) {
			continue
		}
		charges = append(charges, domain.EligibleCharge{
			IssueID:      is.ID,
			VehicleID:    v.ID,
			Make:         v.Make,
			Model:        v.Model,
			RepairTypeID: rt.ID,
			RepairType:   rt.Name,
			Description:  is.Description,
			Price:        rt.Price,
			Status:       is.Status,
		})
	}
	sort.Slice(charges, func(i, j int) bool { return charges[i].IssueID < charges[j].IssueID })
	return charges
}

func (s *MemStore) issuePaidLocked(issueID int64) bool {
	for _, p := range s.payments {
		if p.IssueID != nil && *p.IssueID == issueID && p.Status == domain.StatusCompleted {
			return true
		}
	}
	return false
}

func (s *MemStore) ListIssueStates(_ context.Context, accountID int64) ([]domain.IssueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := []domain.IssueState{}
	for _, is := range s.issues {
		v, ok := s.vehicles[is.VehicleID]
		if !ok || v.OwnerID != accountID {
			continue
		}
		name := ""
		if rt, ok := s.repairTypes[is.RepairTypeID]; ok {
			name = rt.Name
		}
		states = append(states, domain.IssueState{IssueID: is.ID, Status: is.Status, RepairType: name})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].IssueID < states[j].IssueID })
	return states, nil
}

func (s *MemStore) Charge(_ context.Context, p domain.ChargeParams) (*domain.ChargeResult, error) {
	// Same exclusion contract as the row lock: one charge per account at a
	// time, independent accounts in parallel.
	acctLock := s.accountLock(p.AccountID)
	acctLock.Lock()
	defer acctLock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IdempotencyKey != "" {
		if rec, ok := s.idem[p.IdempotencyKey]; ok {
			if rec.requestHash != p.RequestHash {
				return nil, domain.ErrIdempotencyMismatch
			}
			if !rec.done {
				return nil, domain.ErrIdempotencyConflict
			}
			return &domain.ChargeResult{
				Replayed:       true,
				ReplayedBody:   json.RawMessage(rec.responseBody),
				ReplayedStatus: rec.responseStatus,
			}, nil
		}
	}

	acct, ok := s.accounts[p.AccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	amount := p.Amount
	if p.IssueID != nil {
		is, ok := s.issues[*p.IssueID]
		if !ok {
			return nil, domain.ErrIssueNotFound
		}
		v, ok := s.vehicles[is.VehicleID]
		if !ok || v.OwnerID != p.AccountID {
			return nil, domain.ErrIssueNotFound
		}
		rt, ok := s.repairTypes[is.RepairTypeID]
		if !ok {
			return nil, domain.ErrIssueNotFound
		}
		if is.Status != domain.StatusCompleted || s.issuePaidLocked(is.ID) {
			return nil, domain.ErrIssueNotPayable
		}
		amount = rt.Price
	}

	if acct.Capital < amount {
		return nil, domain.ErrInsufficientFunds
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

	acct.Capital -= amount
	clone := payment
	s.payments[payment.ID] = &clone
	if p.IssueID != nil {
		s.issues[*p.IssueID].Status = domain.StatusPaid
	}

	result := &domain.ChargeResult{Payment: payment, NewCapital: acct.Capital}

	if p.IdempotencyKey != "" {
		body, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		s.idem[p.IdempotencyKey] = &idemRecord{
			requestHash:    p.RequestHash,
			done:           true,
			responseStatus: http.StatusOK,
			responseBody:   body,
		}
	}

	return result, nil
}
