package research

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu         sync.Mutex
	oneTime    map[uuid.UUID]*OneTimeResearch
	infinite   map[uuid.UUID]*InfiniteResearch
	executions map[uuid.UUID]*RecurringExecution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		oneTime:    make(map[uuid.UUID]*OneTimeResearch),
		infinite:   make(map[uuid.UUID]*InfiniteResearch),
		executions: make(map[uuid.UUID]*RecurringExecution),
	}
}

func (m *MemoryStore) CreateOneTime(_ context.Context, task *OneTimeResearch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.oneTime[task.ID] = &cp
	return nil
}

func (m *MemoryStore) OneTime(_ context.Context, id uuid.UUID) (*OneTimeResearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.oneTime[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *MemoryStore) MarkOneTimeRunning(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.oneTime[id]
	if !ok {
		return ErrNotFound
	}
	task.Status = StatusRunning
	task.StartedAt = &at
	return nil
}

func (m *MemoryStore) FinishOneTime(_ context.Context, id uuid.UUID, status Status, outputLog, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.oneTime[id]
	if !ok {
		return ErrNotFound
	}
	task.Status = status
	task.OutputLog = outputLog
	task.Error = errMsg
	task.FinishedAt = &at
	return nil
}

func (m *MemoryStore) CreateInfinite(_ context.Context, task *InfiniteResearch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.infinite[task.ID] = &cp
	return nil
}

func (m *MemoryStore) Infinite(_ context.Context, id uuid.UUID) (*InfiniteResearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.infinite[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *MemoryStore) EnabledInfinite(_ context.Context) ([]InfiniteResearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []InfiniteResearch
	for _, task := range m.infinite {
		if task.IsEnabled {
			tasks = append(tasks, *task)
		}
	}
	return tasks, nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, exec *RecurringExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemoryStore) FinishExecution(_ context.Context, id uuid.UUID, status Status, outputLog, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	exec.Status = status
	exec.OutputLog = outputLog
	exec.Error = errMsg
	exec.FinishedAt = &at
	return nil
}

// Executions returns a copy of all execution rows.
func (m *MemoryStore) Executions() []RecurringExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecurringExecution, 0, len(m.executions))
	for _, exec := range m.executions {
		out = append(out, *exec)
	}
	return out
}
