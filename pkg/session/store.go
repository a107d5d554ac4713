package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("session: not found")
	ErrTerminal          = errors.New("session: session is terminal")
	ErrInvalidTransition = errors.New("session: invalid status transition")
	ErrNotCompleted      = errors.New("session: final answer requires completed status")
)

// Store persists sessions. Implementations: the Postgres store and the
// in-memory store used by tests and single-process runs.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	Session(ctx context.Context, id uuid.UUID) (*Session, error)

	// SetStatus persists a status change. Transition legality is the
	// Manager's job; stores only record.
	SetStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) error

	AppendHistory(ctx context.Context, id uuid.UUID, msg Message) error
	AppendContext(ctx context.Context, id uuid.UUID, entry ContextEntry) error

	// ReplaceContext swaps the whole context sequence. Used by
	// compaction only.
	ReplaceContext(ctx context.Context, id uuid.UUID, entries []ContextEntry) error

	SetFinalAnswer(ctx context.Context, id uuid.UUID, answer FinalAnswerResponse) error

	// DeleteExpired removes terminal sessions created before the
	// cutoff and returns how many were deleted.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}
