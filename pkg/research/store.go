package research

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("research: not found")

// Store persists scheduled research rows.
type Store interface {
	CreateOneTime(ctx context.Context, task *OneTimeResearch) error
	OneTime(ctx context.Context, id uuid.UUID) (*OneTimeResearch, error)
	MarkOneTimeRunning(ctx context.Context, id uuid.UUID, at time.Time) error
	FinishOneTime(ctx context.Context, id uuid.UUID, status Status, outputLog, errMsg string, at time.Time) error

	CreateInfinite(ctx context.Context, task *InfiniteResearch) error
	Infinite(ctx context.Context, id uuid.UUID) (*InfiniteResearch, error)
	EnabledInfinite(ctx context.Context) ([]InfiniteResearch, error)

	CreateExecution(ctx context.Context, exec *RecurringExecution) error
	FinishExecution(ctx context.Context, id uuid.UUID, status Status, outputLog, errMsg string, at time.Time) error
}
