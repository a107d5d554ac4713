package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(store, zerolog.Nop()), store
}

func createRunning(t *testing.T, m *Manager) *Session {
	t.Helper()
	s, err := m.CreateSession(context.Background(), CreateParams{UserID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(context.Background(), s.ID, StatusRunning))
	return s
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusAwaitingInput, true},
		{StatusAwaitingInput, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusTimeout, true},
		{StatusPending, StatusInterrupted, true},
		{StatusAwaitingInput, StatusInterrupted, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusAwaitingInput, false},
		{StatusAwaitingInput, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusError, StatusInterrupted, false},
		{StatusTimeout, StatusRunning, false},
		{StatusInterrupted, StatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s → %s", tt.from, tt.to)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.CreateSession(context.Background(), CreateParams{UserID: uuid.New()})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, DefaultConfig.TimeLimit, s.Config.TimeLimit)
	assert.Equal(t, DefaultConfig.TokenThreshold, s.Config.TokenThreshold)
	assert.Equal(t, DefaultConfig.PreserveExchanges, s.Config.PreserveExchanges)
}

func TestCreateSessionRequiresUser(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateSession(context.Background(), CreateParams{})
	require.Error(t, err)
}

func TestSubmitAppendsHistoryAndContext(t *testing.T) {
	m, _ := newTestManager(t)
	s := createRunning(t, m)

	require.NoError(t, m.Submit(context.Background(), s.ID, "find otters"))

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	assert.Equal(t, SenderUser, got.History[0].Sender)
	assert.Equal(t, "find otters", got.History[0].Text)
	require.Len(t, got.Context, 1)
	assert.Equal(t, KindUserInput, got.Context[0].Kind)
}

func TestSubmitResumesAwaitingInput(t *testing.T) {
	m, _ := newTestManager(t)
	s := createRunning(t, m)
	require.NoError(t, m.UpdateStatus(context.Background(), s.ID, StatusAwaitingInput))

	require.NoError(t, m.Submit(context.Background(), s.ID, "continue"))

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestSubmitRejectsTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	s := createRunning(t, m)
	require.NoError(t, m.Fail(context.Background(), s.ID, "boom"))

	err := m.Submit(context.Background(), s.ID, "too late")
	require.ErrorIs(t, err, ErrTerminal)
}

func TestInterruptFromAnyNonTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.CreateSession(context.Background(), CreateParams{UserID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, m.Interrupt(context.Background(), s.ID))

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, got.Status)

	err = m.Interrupt(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition, "terminal states sink")
}

func TestAppendContextRejectedAfterTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	s := createRunning(t, m)
	require.NoError(t, m.UpdateStatus(context.Background(), s.ID, StatusTimeout))

	err := m.AppendContext(context.Background(), s.ID, KindNote, "late note")
	require.ErrorIs(t, err, ErrTerminal)
}

func TestCompleteAttachesFinalAnswer(t *testing.T) {
	m, _ := newTestManager(t)
	s := createRunning(t, m)

	answer := FinalAnswerResponse{Title: "Otters", MarkdownResponse: "# Findings"}
	require.NoError(t, m.Complete(context.Background(), s.ID, answer))

	got, err := m.FinalAnswer(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, answer, *got)
}

func TestFinalAnswerRequiresCompleted(t *testing.T) {
	m, _ := newTestManager(t)
	s := createRunning(t, m)

	_, err := m.FinalAnswer(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestContextTokensSum(t *testing.T) {
	s := &Session{Context: []ContextEntry{{Tokens: 10}, {Tokens: 5}, {Tokens: 1}}}
	assert.Equal(t, 16, s.ContextTokens())
}

func TestCleanupDeletesOldTerminalSessions(t *testing.T) {
	m, store := newTestManager(t)

	old := createRunning(t, m)
	require.NoError(t, m.UpdateStatus(context.Background(), old.ID, StatusTimeout))
	live := createRunning(t, m)

	// Backdate the terminal session past the retention age.
	store.mu.Lock()
	store.sessions[old.ID].CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	store.mu.Unlock()

	c := NewCleanup(store, DefaultCleanupAge, DefaultCleanupInterval, zerolog.Nop())
	require.NoError(t, c.CleanupNow(context.Background()))

	_, err := m.Get(context.Background(), old.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(context.Background(), live.ID)
	require.NoError(t, err, "running sessions survive cleanup")
}
