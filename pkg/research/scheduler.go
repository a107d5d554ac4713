package research

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Trigger fires one recurring task invocation.
type Trigger func(ctx context.Context, task *InfiniteResearch) error

// Scheduler drives enabled recurring research jobs from their cron or
// interval schedules.
type Scheduler struct {
	store   Store
	trigger Trigger
	cron    *cron.Cron
	entries map[uuid.UUID]cron.EntryID
	mu      sync.Mutex
	log     zerolog.Logger
}

func NewScheduler(store Store, trigger Trigger, logger zerolog.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("research: store is required")
	}
	if trigger == nil {
		return nil, fmt.Errorf("research: trigger is required")
	}
	return &Scheduler{
		store:   store,
		trigger: trigger,
		cron:    cron.New(),
		entries: make(map[uuid.UUID]cron.EntryID),
		log:     logger.With().Str("component", "research_scheduler").Logger(),
	}, nil
}

// Start loads all enabled recurring tasks and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.EnabledInfinite(ctx)
	if err != nil {
		return fmt.Errorf("research: failed to load recurring tasks: %w", err)
	}
	for i := range tasks {
		if err := s.Add(&tasks[i]); err != nil {
			s.log.Error().Err(err).Str("task_id", tasks[i].ID.String()).Msg("failed to schedule recurring task")
		}
	}
	s.cron.Start()
	s.log.Info().Int("tasks", len(tasks)).Msg("research scheduler started")
	return nil
}

// Add schedules one recurring task. An existing entry for the same
// task is replaced.
func (s *Scheduler) Add(task *InfiniteResearch) error {
	spec, err := ParseSchedule(task.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[task.ID]; ok {
		s.cron.Remove(entryID)
	}

	t := *task
	entryID, err := s.cron.AddFunc(spec, func() {
		if err := s.trigger(context.Background(), &t); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID.String()).Msg("recurring trigger failed")
		}
	})
	if err != nil {
		return fmt.Errorf("research: failed to schedule %q: %w", task.Schedule, err)
	}
	s.entries[task.ID] = entryID
	s.log.Info().Str("task_id", task.ID.String()).Str("schedule", spec).Msg("recurring task scheduled")
	return nil
}

// Remove unschedules a task.
func (s *Scheduler) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// Stop halts the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
