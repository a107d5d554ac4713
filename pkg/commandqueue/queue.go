// Package commandqueue serializes work into named lanes. The agent
// runtime gives every session its own lane with concurrency 1, which
// guarantees at most one loop iteration chain in flight per session;
// scheduled research shares a wider lane.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one unit of queued work.
type Task func(ctx context.Context) (any, error)

// SessionLane names the lane that serializes one session's runs.
func SessionLane(sessionID string) string {
	return "session-" + sessionID
}

// ResearchLane is the shared lane for scheduled research jobs.
const ResearchLane = "research"

// DefaultResearchConcurrency bounds parallel scheduled jobs.
const DefaultResearchConcurrency = 5

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value any
	err   error
}

type laneState struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Queue is a lane-based task serializer.
type Queue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	dedup     *dedupCache
	log       zerolog.Logger
}

func New(logger zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		log:    logger.With().Str("component", "commandqueue").Logger(),
	}
	q.dedup = newDedupCache(ctx, 0)
	q.initLane(ResearchLane, DefaultResearchConcurrency)
	return q
}

func (q *Queue) initLane(lane string, concurrency int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.lanes[lane]; !exists {
		q.lanes[lane] = &laneState{concurrency: concurrency}
		q.log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("lane initialized")
	}
}

func (q *Queue) ensureLane(lane string) {
	q.mu.RLock()
	_, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		q.initLane(lane, 1)
	}
}

// Enqueue queues the task on the lane and blocks until it finishes.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	ls := q.lanes[lane]
	q.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ls.generation,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	q.log.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("task enqueued")

	go q.processLane(lane)

	result := <-record.result
	return result.value, result.err
}

// EnqueueIdempotent is Enqueue with a request ID: a redelivered request
// within the dedup window returns the cached result instead of running
// the task again.
func (q *Queue) EnqueueIdempotent(ctx context.Context, lane, requestID string, task Task) (any, error) {
	if requestID != "" {
		if cached, ok := q.dedup.Get(requestID); ok {
			q.log.Debug().Str("lane", lane).Str("request_id", requestID).Msg("duplicate request served from cache")
			return cached.value, cached.err
		}
	}
	value, err := q.Enqueue(ctx, lane, task)
	if requestID != "" {
		q.dedup.Set(requestID, taskResult{value: value, err: err})
	}
	return value, err
}

func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("commandqueue: task cancelled by lane reset")}
			close(record.result)
			continue
		}

		ls.running++
		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		q.log.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("task failed")
	} else {
		q.log.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("task completed")
	}

	go q.processLane(lane)
}

// QueueSize returns the number of queued (not running) tasks on a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns the number of executing tasks on a lane.
func (q *Queue) RunningCount(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// SetConcurrency updates a lane's concurrency limit.
func (q *Queue) SetConcurrency(lane string, concurrency int) {
	q.ensureLane(lane)
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	old := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	if concurrency > old {
		go q.processLane(lane)
	}
}

// ResetLane cancels everything queued on a lane. Tasks already running
// finish; queued tasks fail with a reset error.
func (q *Queue) ResetLane(lane string) {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("commandqueue: task cancelled by lane reset")}
		close(record.result)
	}
	ls.queue = nil
	q.log.Info().Str("lane", lane).Int("generation", ls.generation).Msg("lane reset")
}

// Close cancels pending contexts and waits for running tasks.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	q.dedup.Stop()
	return nil
}
