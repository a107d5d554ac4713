package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultConfig fills unset session config fields.
var DefaultConfig = Config{
	TimeLimit:         10 * time.Minute,
	TokenThreshold:    60_000,
	PreserveExchanges: 3,
}

// Manager mediates every session mutation, enforcing the status
// machine and the terminal-state invariants.
type Manager struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewManager(store Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   logger.With().Str("component", "session").Logger(),
		now:   time.Now,
	}
}

// CreateParams describes a new session.
type CreateParams struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Config         Config
	Attachments    []Attachment
}

// CreateSession inserts a new Pending session. Zero config fields take
// defaults. TimeLimit validity is deliberately not checked here; the
// runner's termination policy owns that check.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) (*Session, error) {
	if params.UserID == uuid.Nil {
		return nil, fmt.Errorf("session: user id is required")
	}
	cfg := params.Config
	if cfg.TimeLimit == 0 {
		cfg.TimeLimit = DefaultConfig.TimeLimit
	}
	if cfg.TokenThreshold == 0 {
		cfg.TokenThreshold = DefaultConfig.TokenThreshold
	}
	if cfg.PreserveExchanges == 0 {
		cfg.PreserveExchanges = DefaultConfig.PreserveExchanges
	}

	s := &Session{
		ID:             uuid.New(),
		UserID:         params.UserID,
		OrganizationID: params.OrganizationID,
		CreatedAt:      m.now(),
		Status:         StatusPending,
		Config:         cfg,
		Attachments:    params.Attachments,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("session: failed to create: %w", err)
	}
	m.log.Info().Str("session_id", s.ID.String()).Str("user_id", s.UserID.String()).Msg("session created")
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.store.Session(ctx, id)
}

// Submit appends a user message. A session awaiting input resumes to
// Running; terminal sessions reject the message.
func (m *Manager) Submit(ctx context.Context, id uuid.UUID, text string) error {
	s, err := m.store.Session(ctx, id)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return fmt.Errorf("session: submit to %s session: %w", s.Status, ErrTerminal)
	}

	if err := m.store.AppendHistory(ctx, id, Message{Sender: SenderUser, Text: text, Timestamp: m.now()}); err != nil {
		return fmt.Errorf("session: failed to append message: %w", err)
	}
	if err := m.AppendContext(ctx, id, KindUserInput, text); err != nil {
		return err
	}
	if s.Status == StatusAwaitingInput {
		return m.UpdateStatus(ctx, id, StatusRunning)
	}
	return nil
}

// Interrupt moves a non-terminal session to Interrupted. The running
// loop observes the status cooperatively; in-flight vendor calls are
// not killed.
func (m *Manager) Interrupt(ctx context.Context, id uuid.UUID) error {
	return m.UpdateStatus(ctx, id, StatusInterrupted)
}

// UpdateStatus applies a transition after checking it against the
// status machine.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) error {
	return m.updateStatus(ctx, id, to, "")
}

// Fail moves the session to Error and records the cause.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, cause string) error {
	return m.updateStatus(ctx, id, StatusError, cause)
}

func (m *Manager) updateStatus(ctx context.Context, id uuid.UUID, to Status, lastError string) error {
	s, err := m.store.Session(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("session: %s → %s: %w", s.Status, to, ErrInvalidTransition)
	}
	if err := m.store.SetStatus(ctx, id, to, lastError); err != nil {
		return fmt.Errorf("session: failed to set status: %w", err)
	}
	m.log.Info().
		Str("session_id", id.String()).
		Str("from", string(s.Status)).
		Str("to", string(to)).
		Msg("session status changed")
	return nil
}

// AppendContext adds a context entry, computing its token count.
// Terminal sessions are immutable.
func (m *Manager) AppendContext(ctx context.Context, id uuid.UUID, kind EntryKind, content string) error {
	s, err := m.store.Session(ctx, id)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return fmt.Errorf("session: append to %s session: %w", s.Status, ErrTerminal)
	}
	entry := ContextEntry{
		Content:   content,
		Tokens:    approxTokens(content),
		Kind:      kind,
		CreatedAt: m.now(),
	}
	if err := m.store.AppendContext(ctx, id, entry); err != nil {
		return fmt.Errorf("session: failed to append context: %w", err)
	}
	return nil
}

// AppendAgentMessage records an agent reply in the history.
func (m *Manager) AppendAgentMessage(ctx context.Context, id uuid.UUID, text string) error {
	return m.store.AppendHistory(ctx, id, Message{Sender: SenderAgent, Text: text, Timestamp: m.now()})
}

// ReplaceContext swaps the context wholesale. Compaction only.
func (m *Manager) ReplaceContext(ctx context.Context, id uuid.UUID, entries []ContextEntry) error {
	if err := m.store.ReplaceContext(ctx, id, entries); err != nil {
		return fmt.Errorf("session: failed to replace context: %w", err)
	}
	return nil
}

// Complete marks the session Completed and attaches the final answer.
// The final answer is the one mutation allowed on a terminal session.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID, answer FinalAnswerResponse) error {
	if err := m.UpdateStatus(ctx, id, StatusCompleted); err != nil {
		return err
	}
	if err := m.store.SetFinalAnswer(ctx, id, answer); err != nil {
		return fmt.Errorf("session: failed to persist final answer: %w", err)
	}
	return nil
}

// FinalAnswer returns the result of a completed run.
func (m *Manager) FinalAnswer(ctx context.Context, id uuid.UUID) (*FinalAnswerResponse, error) {
	s, err := m.store.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusCompleted {
		return nil, fmt.Errorf("session: status is %s: %w", s.Status, ErrNotCompleted)
	}
	if s.FinalAnswer == nil {
		return nil, fmt.Errorf("session: completed session has no final answer")
	}
	return s.FinalAnswer, nil
}

// approxTokens estimates tokens at four characters per token, matching
// the accounting used for LLM usage.
func approxTokens(s string) int { return len(s) / 4 }
