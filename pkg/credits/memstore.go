package credits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store used by tests and local
// development. ApplyChange serializes on a mutex, standing in for the
// row lock the Postgres store takes.
type MemoryStore struct {
	mu           sync.Mutex
	allocations  map[uuid.UUID]*Allocation
	transactions []Transaction
	grants       []Grant
	personalOrgs map[uuid.UUID]uuid.UUID
	members      map[uuid.UUID]map[uuid.UUID]bool
	userCreated  map[uuid.UUID]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allocations:  make(map[uuid.UUID]*Allocation),
		personalOrgs: make(map[uuid.UUID]uuid.UUID),
		members:      make(map[uuid.UUID]map[uuid.UUID]bool),
		userCreated:  make(map[uuid.UUID]time.Time),
	}
}

// SeedAllocation creates an allocation with the given balance.
func (m *MemoryStore) SeedAllocation(orgID uuid.UUID, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[orgID] = &Allocation{
		OrganizationID:   orgID,
		PlanType:         "free",
		PlanCredits:      balance,
		CreditsRemaining: balance,
		UpdatedAt:        time.Now(),
	}
}

// SeedUser registers a user with a personal organization and creation
// time.
func (m *MemoryStore) SeedUser(userID, personalOrg uuid.UUID, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personalOrgs[userID] = personalOrg
	m.userCreated[userID] = createdAt
	if m.members[userID] == nil {
		m.members[userID] = make(map[uuid.UUID]bool)
	}
	m.members[userID][personalOrg] = true
}

// AddMember records organization membership.
func (m *MemoryStore) AddMember(userID, orgID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[userID] == nil {
		m.members[userID] = make(map[uuid.UUID]bool)
	}
	m.members[userID][orgID] = true
}

// AddGrant installs an unlimited-access grant.
func (m *MemoryStore) AddGrant(g Grant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == (uuid.UUID{}) {
		g.ID = uuid.New()
	}
	m.grants = append(m.grants, g)
}

// RevokeGrant marks a grant revoked.
func (m *MemoryStore) RevokeGrant(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range m.grants {
		if m.grants[i].ID == id {
			m.grants[i].RevokedAt = &now
		}
	}
}

// Transactions returns a copy of the ledger rows in insertion order.
func (m *MemoryStore) Transactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}

func (m *MemoryStore) PersonalOrg(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.personalOrgs[userID]
	if !ok {
		return uuid.UUID{}, ErrAllocationNotFound
	}
	return org, nil
}

func (m *MemoryStore) UserCreatedAt(_ context.Context, userID uuid.UUID) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.userCreated[userID]; ok {
		return t, nil
	}
	return time.Now(), nil
}

func (m *MemoryStore) IsMember(_ context.Context, userID, orgID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[userID][orgID], nil
}

func (m *MemoryStore) ActiveGrant(_ context.Context, userID uuid.UUID, orgID *uuid.UUID) (*Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range m.grants {
		g := m.grants[i]
		if !g.Active(now) {
			continue
		}
		if g.UserID != nil && *g.UserID == userID {
			return &g, nil
		}
		if orgID != nil && g.OrganizationID != nil && *g.OrganizationID == *orgID {
			return &g, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Allocation(_ context.Context, orgID uuid.UUID) (*Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alloc, ok := m.allocations[orgID]
	if !ok {
		return nil, ErrAllocationNotFound
	}
	cp := *alloc
	return &cp, nil
}

func (m *MemoryStore) ApplyChange(_ context.Context, orgID uuid.UUID, params ChangeParams) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[orgID]
	if !ok {
		return nil, ErrAllocationNotFound
	}

	prev := alloc.CreditsRemaining
	next := prev.Add(params.Delta)
	if next.Sign() < 0 {
		return nil, ErrInsufficientCredits
	}

	alloc.CreditsRemaining = next
	alloc.UpdatedAt = time.Now()

	tx := Transaction{
		ID:              uuid.New(),
		UserID:          params.UserID,
		OrganizationID:  params.OrganizationID,
		CreditsChanged:  params.Delta,
		PreviousBalance: prev,
		NewBalance:      next,
		ActionSource:    params.ActionSource,
		ActionType:      params.ActionType,
		EntityID:        params.EntityID,
		CreatedAt:       time.Now(),
	}
	m.transactions = append(m.transactions, tx)
	return &tx, nil
}

func (m *MemoryStore) TransactionByID(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.transactions {
		if m.transactions[i].ID == id {
			cp := m.transactions[i]
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *MemoryStore) ProcessedEntityIDs(_ context.Context, source ActionSource, actionType string, entityIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}
	out := make(map[uuid.UUID]bool)
	for _, tx := range m.transactions {
		if tx.ActionSource == source && tx.ActionType == actionType && tx.EntityID != nil && wanted[*tx.EntityID] {
			out[*tx.EntityID] = true
		}
	}
	return out, nil
}
