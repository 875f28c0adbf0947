// Package queue serializes calls to rate-limited remote services behind a
// bounded-concurrency gate with priority ordering and exponential-backoff
// retry. One queue instance guards one backend, shared across sessions.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

// Priority orders pending tasks: higher runs first, FIFO within equal.
type Priority int

// Common priorities. Query-path embeds outrank background upserts.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Operation is the remote call a task performs. It must honor ctx.
type Operation func(ctx context.Context) error

// Options tune a single submission.
type Options struct {
	Priority Priority
	ID       string // diagnostic label; generated when empty
}

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Queued int  `json:"queued"`
	Active int  `json:"active"`
	Paused bool `json:"paused"`
}

type task struct {
	id       string
	priority Priority
	ctx      context.Context
	op       Operation
	done     chan error // buffered; receives exactly one result
}

// Queue is a bounded-concurrency task runner. Safe for concurrent use.
type Queue struct {
	concurrency int
	policy      RetryPolicy
	logger      *zap.Logger

	mu      sync.Mutex
	pending []*task // descending priority, FIFO within equal
	active  int
	paused  bool
	closed  bool
}

// New creates a queue running at most concurrency operations at once.
func New(concurrency int, policy RetryPolicy, logger *zap.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		concurrency: concurrency,
		policy:      policy,
		logger:      logger,
	}
}

// Submit enqueues op and blocks until it completes, fails fatally, or
// exhausts its retries. A task's result is delivered exactly once. If ctx
// is cancelled while the task is still queued, the task is abandoned and
// ctx.Err() returned.
func (q *Queue) Submit(ctx context.Context, op Operation, opts Options) error {
	t := &task{
		id:       opts.ID,
		priority: opts.Priority,
		ctx:      ctx,
		op:       op,
		done:     make(chan error, 1),
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	q.insert(t)
	q.dispatchLocked()
	q.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		// The runner observes the dead ctx and resolves the task as
		// cancelled; nothing is left dangling.
		return ctx.Err()
	}
}

// Pause stops dequeuing without discarding queued tasks.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts dequeuing.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.dispatchLocked()
	q.mu.Unlock()
}

// Clear rejects and discards all pending tasks and refuses new ones.
// Used for shutdown. Running tasks finish on their own.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.closed = true
	pending := q.pending
	q.pending = nil
	metrics.QueueDepth.Set(0)
	q.mu.Unlock()

	for _, t := range pending {
		t.done <- domain.ErrQueueClosed
	}
}

// Stats returns current queue occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Queued: len(q.pending), Active: q.active, Paused: q.paused}
}

// insert places t after the last pending task of equal or higher priority,
// keeping submission order stable within a priority class.
func (q *Queue) insert(t *task) {
	i := len(q.pending)
	for i > 0 && q.pending[i-1].priority < t.priority {
		i--
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = t
	metrics.QueueDepth.Set(float64(len(q.pending)))
}

// dispatchLocked starts pending tasks while slots are free. Callers hold
// the lock.
func (q *Queue) dispatchLocked() {
	for !q.paused && !q.closed && q.active < q.concurrency && len(q.pending) > 0 {
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		go q.run(t)
	}
	metrics.QueueDepth.Set(float64(len(q.pending)))
	metrics.QueueActive.Set(float64(q.active))
}

func (q *Queue) run(t *task) {
	t.done <- q.runWithRetry(t)

	q.mu.Lock()
	q.active--
	q.dispatchLocked()
	q.mu.Unlock()
}

// runWithRetry executes the task through the retry wrapper: retryable
// failures back off and retry up to the policy's budget, fatal failures
// reject immediately.
func (q *Queue) runWithRetry(t *task) error {
	for attempt := 1; ; attempt++ {
		if err := t.ctx.Err(); err != nil {
			return err
		}

		err := t.op(t.ctx)
		if err == nil {
			return nil
		}
		if !q.policy.ShouldRetry(err, attempt) {
			return err
		}

		delay := q.policy.DelayFor(attempt)
		q.logger.Warn("retrying queued task",
			zap.String("task_id", t.id),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.QueueRetriesTotal.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return t.ctx.Err()
		case <-timer.C:
		}
	}
}
