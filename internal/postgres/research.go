package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seekerhq/seeker/pkg/research"
)

var _ research.Store = (*Store)(nil)

// CreateOneTime inserts a scheduled one-time task.
func (s *Store) CreateOneTime(ctx context.Context, task *research.OneTimeResearch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO one_time_research (id, user_id, prompt, status, output_log, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.UserID, task.Prompt, string(task.Status),
		task.OutputLog, task.Error, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create one-time research: %w", err)
	}
	return nil
}

// OneTime loads one task.
func (s *Store) OneTime(ctx context.Context, id uuid.UUID) (*research.OneTimeResearch, error) {
	var task research.OneTimeResearch
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, prompt, status, output_log, error, created_at, started_at, finished_at
		 FROM one_time_research WHERE id = $1`, id,
	).Scan(&task.ID, &task.UserID, &task.Prompt, &status, &task.OutputLog,
		&task.Error, &task.CreatedAt, &task.StartedAt, &task.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load one-time research: %w", err)
	}
	task.Status = research.Status(status)
	return &task, nil
}

// MarkOneTimeRunning records the start of an execution.
func (s *Store) MarkOneTimeRunning(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE one_time_research SET status = $1, started_at = $2 WHERE id = $3`,
		string(research.StatusRunning), at, id)
	if err != nil {
		return fmt.Errorf("postgres: mark one-time running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrNotFound
	}
	return nil
}

// FinishOneTime records the terminal state of an execution.
func (s *Store) FinishOneTime(ctx context.Context, id uuid.UUID, status research.Status, outputLog, errMsg string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE one_time_research
		 SET status = $1, output_log = $2, error = $3, finished_at = $4
		 WHERE id = $5`,
		string(status), outputLog, errMsg, at, id)
	if err != nil {
		return fmt.Errorf("postgres: finish one-time research: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrNotFound
	}
	return nil
}

// CreateInfinite inserts a recurring task.
func (s *Store) CreateInfinite(ctx context.Context, task *research.InfiniteResearch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO infinite_research (id, user_id, prompt, schedule, is_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		task.ID, task.UserID, task.Prompt, task.Schedule, task.IsEnabled, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create infinite research: %w", err)
	}
	return nil
}

// Infinite loads one recurring task.
func (s *Store) Infinite(ctx context.Context, id uuid.UUID) (*research.InfiniteResearch, error) {
	var task research.InfiniteResearch
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, prompt, schedule, is_enabled, created_at
		 FROM infinite_research WHERE id = $1`, id,
	).Scan(&task.ID, &task.UserID, &task.Prompt, &task.Schedule,
		&task.IsEnabled, &task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load infinite research: %w", err)
	}
	return &task, nil
}

// EnabledInfinite returns all enabled recurring tasks, oldest first.
func (s *Store) EnabledInfinite(ctx context.Context) ([]research.InfiniteResearch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, prompt, schedule, is_enabled, created_at
		 FROM infinite_research WHERE is_enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled infinite research: %w", err)
	}
	defer rows.Close()

	var tasks []research.InfiniteResearch
	for rows.Next() {
		var task research.InfiniteResearch
		if err := rows.Scan(&task.ID, &task.UserID, &task.Prompt,
			&task.Schedule, &task.IsEnabled, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan infinite research: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CreateExecution inserts one run of a recurring task.
func (s *Store) CreateExecution(ctx context.Context, exec *research.RecurringExecution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recurring_executions (id, parent_id, status, output_log, error, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		exec.ID, exec.ParentID, string(exec.Status), exec.OutputLog,
		exec.Error, exec.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create execution: %w", err)
	}
	return nil
}

// FinishExecution records the terminal state of one run.
func (s *Store) FinishExecution(ctx context.Context, id uuid.UUID, status research.Status, outputLog, errMsg string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recurring_executions
		 SET status = $1, output_log = $2, error = $3, finished_at = $4
		 WHERE id = $5`,
		string(status), outputLog, errMsg, at, id)
	if err != nil {
		return fmt.Errorf("postgres: finish execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrNotFound
	}
	return nil
}
