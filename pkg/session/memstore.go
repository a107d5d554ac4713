package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*Session)}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneSession(s)
	m.sessions[s.ID] = cp
	return nil
}

func (m *MemoryStore) Session(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id uuid.UUID, status Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	if lastError != "" {
		s.LastError = lastError
	}
	return nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, id uuid.UUID, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.History = append(s.History, msg)
	return nil
}

func (m *MemoryStore) AppendContext(_ context.Context, id uuid.UUID, entry ContextEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Context = append(s.Context, entry)
	return nil
}

func (m *MemoryStore) ReplaceContext(_ context.Context, id uuid.UUID, entries []ContextEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Context = append([]ContextEntry(nil), entries...)
	return nil
}

func (m *MemoryStore) SetFinalAnswer(_ context.Context, id uuid.UUID, answer FinalAnswerResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.FinalAnswer = &answer
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, s := range m.sessions {
		if s.Status.Terminal() && s.CreatedAt.Before(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.History = append([]Message(nil), s.History...)
	cp.Context = append([]ContextEntry(nil), s.Context...)
	cp.Attachments = append([]Attachment(nil), s.Attachments...)
	if s.FinalAnswer != nil {
		fa := *s.FinalAnswer
		cp.FinalAnswer = &fa
	}
	return &cp
}
