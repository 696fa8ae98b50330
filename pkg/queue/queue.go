// Package queue provides an in-memory at-least-once delivery queue for
// scan tasks. Consumers must Ack a task after handling it; a task held
// past its visibility timeout is redelivered, and a task that exhausts
// its attempt budget moves to the dead-letter list.
//
// At-least-once means consumers can see the same task twice. The
// orchestrator tolerates this: scan processing is idempotent end to end,
// so a redelivered task converges on the same stored outcome.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudsentry/cloudsentry/pkg/defaults"
)

var (
	// ErrUnknownTask is returned when acking a task that is not in flight.
	ErrUnknownTask = errors.New("queue: unknown task")

	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// Task is one unit of scan work.
type Task struct {
	ID         string    `json:"id"`
	ScanID     string    `json:"scan_id"`
	Provider   string    `json:"provider"`
	Account    string    `json:"account"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempt is the delivery count, starting at 1 on first Receive.
	Attempt int `json:"attempt"`
}

// Config controls delivery behaviour.
type Config struct {
	// VisibilityTimeout is how long a received task stays invisible
	// before it is considered abandoned and redelivered.
	VisibilityTimeout time.Duration

	// MaxAttempts caps deliveries per task; beyond it the task is dead.
	MaxAttempts int

	// RetryDelay postpones redelivery after an explicit Nack.
	RetryDelay time.Duration
}

type message struct {
	task       Task
	notBefore  time.Time // earliest redelivery time
	invisible  time.Time // visibility deadline while in flight
	deliveries int
}

// Queue is a mutex-guarded in-memory queue. Safe for concurrent
// producers and consumers.
type Queue struct {
	cfg    Config
	now    func() time.Time // test seam
	notify chan struct{}

	mu       sync.Mutex
	pending  []*message
	inflight map[string]*message
	dead     []Task
	closed   bool
}

// New creates a queue, applying defaults for unset config.
func New(cfg Config) *Queue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = defaults.QueueVisibilityTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.QueueMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.QueueRetryDelay
	}
	return &Queue{
		cfg:      cfg,
		now:      time.Now,
		notify:   make(chan struct{}, 1),
		inflight: make(map[string]*message),
	}
}

// Enqueue adds a task. A missing ID is assigned.
func (q *Queue) Enqueue(t Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now().UTC()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.pending = append(q.pending, &message{task: t})
	q.mu.Unlock()

	q.wake()
	return t.ID, nil
}

// Receive blocks until a task is available or ctx is done. The returned
// task is invisible to other consumers until its visibility timeout
// expires or it is acked.
func (q *Queue) Receive(ctx context.Context) (Task, error) {
	for {
		if t, ok, err := q.tryReceive(); err != nil || ok {
			return t, err
		}

		wait := q.nextWake()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Task{}, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack marks a task as handled and removes it permanently.
func (q *Queue) Ack(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(q.inflight, taskID)
	return nil
}

// Nack returns a task to the queue for redelivery after the retry delay.
// A task past its attempt budget goes to the dead-letter list instead.
func (q *Queue) Nack(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.inflight[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(q.inflight, taskID)
	q.requeueLocked(m, q.now().Add(q.cfg.RetryDelay))
	q.wake()
	return nil
}

// Dead returns tasks that exhausted their attempt budget.
func (q *Queue) Dead() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.dead))
	copy(out, q.dead)
	return out
}

// Len reports pending plus in-flight tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// Close stops accepting new tasks. Blocked receivers return ErrClosed
// once the queue is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) tryReceive() (Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.reapExpiredLocked(now)

	for i, m := range q.pending {
		if m.notBefore.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		m.deliveries++
		m.invisible = now.Add(q.cfg.VisibilityTimeout)
		m.task.Attempt = m.deliveries
		q.inflight[m.task.ID] = m
		return m.task, true, nil
	}

	if q.closed && len(q.pending) == 0 && len(q.inflight) == 0 {
		return Task{}, false, ErrClosed
	}
	return Task{}, false, nil
}

// reapExpiredLocked redelivers in-flight tasks whose consumer went
// silent past the visibility timeout.
func (q *Queue) reapExpiredLocked(now time.Time) {
	for id, m := range q.inflight {
		if m.invisible.After(now) {
			continue
		}
		delete(q.inflight, id)
		q.requeueLocked(m, now)
	}
}

func (q *Queue) requeueLocked(m *message, notBefore time.Time) {
	if m.deliveries >= q.cfg.MaxAttempts {
		q.dead = append(q.dead, m.task)
		return
	}
	m.notBefore = notBefore
	q.pending = append(q.pending, m)
}

// nextWake bounds the receive poll interval by the nearest deadline.
func (q *Queue) nextWake() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	wait := q.cfg.VisibilityTimeout
	now := q.now()
	for _, m := range q.pending {
		if d := m.notBefore.Sub(now); d > 0 && d < wait {
			wait = d
		}
	}
	for _, m := range q.inflight {
		if d := m.invisible.Sub(now); d > 0 && d < wait {
			wait = d
		}
	}
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
