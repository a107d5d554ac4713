package research

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/agent"
	"github.com/seekerhq/seeker/pkg/session"
)

// JobRunner runs one research request end to end. Satisfied by
// agent.ResearchService.
type JobRunner interface {
	RunAndLog(ctx context.Context, req agent.ResearchRequest) (*agent.ResearchResult, error)
}

// Executor drives queued research invocations through the agent
// runtime and records their outcome.
type Executor struct {
	store  Store
	runner JobRunner
	cfg    session.Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewExecutor builds an Executor. cfg is the session configuration
// applied to every detached run.
func NewExecutor(store Store, runner JobRunner, cfg session.Config, logger zerolog.Logger) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("research: store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("research: runner is required")
	}
	return &Executor{
		store:  store,
		runner: runner,
		cfg:    cfg,
		log:    logger.With().Str("component", "research_executor").Logger(),
		now:    time.Now,
	}, nil
}

// ExecuteOneTime runs a one-time task. Already-finished tasks are
// skipped (executed=false, nil error) so queue redeliveries ack
// without re-running. A returned error means the final state update
// failed and the queue should retry.
func (e *Executor) ExecuteOneTime(ctx context.Context, id uuid.UUID, orgID *uuid.UUID) (executed bool, err error) {
	task, err := e.store.OneTime(ctx, id)
	if err != nil {
		return false, err
	}
	if task.Status.Finished() {
		e.log.Info().Str("task_id", id.String()).Str("status", string(task.Status)).Msg("task already finished, skipping")
		return false, nil
	}

	if err := e.store.MarkOneTimeRunning(ctx, id, e.now()); err != nil {
		return false, fmt.Errorf("research: failed to mark running: %w", err)
	}

	status, outputLog, runErrMsg := e.run(ctx, task.UserID, task.Prompt, orgID)
	if err := e.store.FinishOneTime(ctx, id, status, outputLog, runErrMsg, e.now()); err != nil {
		return true, fmt.Errorf("research: failed to record final state: %w", err)
	}
	return true, nil
}

// ExecuteRecurring runs one invocation of a recurring task, creating
// its execution row up front. Disabled parents are skipped.
func (e *Executor) ExecuteRecurring(ctx context.Context, id uuid.UUID, orgID *uuid.UUID) (executed bool, err error) {
	parent, err := e.store.Infinite(ctx, id)
	if err != nil {
		return false, err
	}
	if !parent.IsEnabled {
		e.log.Info().Str("task_id", id.String()).Msg("recurring task disabled, skipping")
		return false, nil
	}

	exec := &RecurringExecution{
		ID:        uuid.New(),
		ParentID:  parent.ID,
		Status:    StatusRunning,
		StartedAt: e.now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return false, fmt.Errorf("research: failed to create execution: %w", err)
	}

	status, outputLog, runErrMsg := e.run(ctx, parent.UserID, parent.Prompt, orgID)
	if err := e.store.FinishExecution(ctx, exec.ID, status, outputLog, runErrMsg, e.now()); err != nil {
		return true, fmt.Errorf("research: failed to record execution state: %w", err)
	}
	return true, nil
}

func (e *Executor) run(ctx context.Context, userID uuid.UUID, prompt string, orgID *uuid.UUID) (Status, string, string) {
	result, err := e.runner.RunAndLog(ctx, agent.ResearchRequest{
		UserID:         userID,
		OrganizationID: orgID,
		Instruction:    prompt,
		Config:         e.cfg,
	})

	outputLog := ""
	if result != nil {
		outputLog = result.OutputLog
	}
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID.String()).Msg("research run failed")
		return StatusFailed, outputLog, err.Error()
	}
	return StatusCompleted, outputLog, ""
}
