package access

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	owners      map[Object]uuid.UUID
	public      map[Object]bool
	shares      map[Object][]Share
	memberships map[uuid.UUID][]uuid.UUID
	parents     map[Object]Object
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:      make(map[Object]uuid.UUID),
		public:      make(map[Object]bool),
		shares:      make(map[Object][]Share),
		memberships: make(map[uuid.UUID][]uuid.UUID),
		parents:     make(map[Object]Object),
	}
}

// SetOwner records the owning user of an object.
func (m *MemoryStore) SetOwner(obj Object, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[obj] = userID
}

// SetPublic marks an object world-readable.
func (m *MemoryStore) SetPublic(obj Object, public bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.public[obj] = public
}

// AddShare installs a share row.
func (m *MemoryStore) AddShare(s Share) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := Object{ID: s.ObjectID, Type: s.ObjectType}
	m.shares[obj] = append(m.shares[obj], s)
}

// AddMembership records that the user belongs to the organization.
func (m *MemoryStore) AddMembership(userID, orgID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[userID] = append(m.memberships[userID], orgID)
}

// SetParent records containment (asset → collection).
func (m *MemoryStore) SetParent(child, parent Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[child] = parent
}

func (m *MemoryStore) Owner(_ context.Context, obj Object) (*uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if owner, ok := m.owners[obj]; ok {
		o := owner
		return &o, nil
	}
	return nil, nil
}

func (m *MemoryStore) IsPublic(_ context.Context, obj Object) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.public[obj], nil
}

func (m *MemoryStore) Shares(_ context.Context, obj Object) ([]Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Share, len(m.shares[obj]))
	copy(out, m.shares[obj])
	return out, nil
}

func (m *MemoryStore) Memberships(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, len(m.memberships[userID]))
	copy(out, m.memberships[userID])
	return out, nil
}

func (m *MemoryStore) Parent(_ context.Context, obj Object) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if parent, ok := m.parents[obj]; ok {
		p := parent
		return &p, nil
	}
	return nil, nil
}
