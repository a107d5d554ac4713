// Package research schedules detached research jobs: one-time tasks
// fired through the task queue and recurring tasks driven by cron or
// interval schedules. Execution itself is delegated to the agent
// runtime.
package research

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Status is a job or execution lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Finished reports whether the status is final.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OneTimeResearch is a single detached research task.
type OneTimeResearch struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Prompt     string
	Status     Status
	OutputLog  string
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// InfiniteResearch is a recurring research task. Schedule is either
// "every:<duration>" or a five-field cron expression.
type InfiniteResearch struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Prompt    string
	Schedule  string
	IsEnabled bool
	CreatedAt time.Time
}

// RecurringExecution is one invocation of an InfiniteResearch.
type RecurringExecution struct {
	ID         uuid.UUID
	ParentID   uuid.UUID
	Status     Status
	OutputLog  string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule normalizes a schedule string into a cron spec the
// scheduler accepts. "every:<duration>" becomes "@every <duration>";
// anything else must be a valid cron expression.
func ParseSchedule(s string) (string, error) {
	if rest, ok := strings.CutPrefix(s, "every:"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil || d <= 0 {
			return "", fmt.Errorf("research: invalid interval %q", rest)
		}
		return "@every " + d.String(), nil
	}
	if _, err := cronParser.Parse(s); err != nil {
		return "", fmt.Errorf("research: invalid cron expression %q: %w", s, err)
	}
	return s, nil
}
