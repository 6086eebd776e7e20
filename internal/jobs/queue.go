// Package jobs is an in-process task queue with named channels, per-channel
// priority ordering, worker pools and retry with backoff. Delivery is
// at-least-once: a failed attempt is retried until MaxAttempts.
package jobs

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/registry/internal/metrics"
)

// Handler runs one task. A returned error schedules a retry.
type Handler func(ctx context.Context, task Task) error

var (
	ErrUnknownTask    = errors.New("jobs: no handler registered")
	ErrUnknownChannel = errors.New("jobs: unknown channel")
	ErrStopped        = errors.New("jobs: queue stopped")
)

// ChannelConfig sizes the worker pool of one channel.
type ChannelConfig struct {
	Name    string
	Workers int
}

// Config holds queue configuration.
type Config struct {
	Channels    []ChannelConfig
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type channel struct {
	name    string
	workers int
	pending taskHeap
	wake    chan struct{}
}

// Queue dispatches tasks to registered handlers.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	handlers map[string]Handler
	channels map[string]*channel
	seq      uint64
	stopped  bool
	timers   map[*time.Timer]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a queue with the configured channels.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	q := &Queue{
		cfg:      cfg,
		handlers: make(map[string]Handler),
		channels: make(map[string]*channel),
		timers:   make(map[*time.Timer]struct{}),
		logger:   logger.With("component", "jobs"),
		metrics:  m,
	}
	for _, c := range cfg.Channels {
		workers := c.Workers
		if workers <= 0 {
			workers = 1
		}
		q.channels[c.Name] = &channel{name: c.Name, workers: workers, wake: make(chan struct{}, 1)}
	}
	return q
}

// Register binds a handler to a task name.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue adds a task and returns its id. The payload is stored as JSON.
func (q *Queue) Enqueue(name, channelName string, priority int, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", name, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return "", ErrStopped
	}
	if _, ok := q.handlers[name]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	ch, ok := q.channels[channelName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownChannel, channelName)
	}

	t := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Channel:    channelName,
		Priority:   priority,
		Payload:    raw,
		Attempt:    0,
		EnqueuedAt: time.Now().UTC(),
	}
	q.pushLocked(ch, t)
	q.metrics.TaskEnqueued(channelName, name)
	return t.ID, nil
}

func (q *Queue) pushLocked(ch *channel, t *Task) {
	q.seq++
	t.seq = q.seq
	heap.Push(&ch.pending, t)
	q.metrics.SetQueueDepth(ch.name, ch.pending.Len())
	select {
	case ch.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) popLocked(ch *channel) *Task {
	if ch.pending.Len() == 0 {
		return nil
	}
	t := heap.Pop(&ch.pending).(*Task)
	q.metrics.SetQueueDepth(ch.name, ch.pending.Len())
	if ch.pending.Len() > 0 {
		select {
		case ch.wake <- struct{}{}:
		default:
		}
	}
	return t
}

// Pending returns a snapshot of the tasks waiting on a channel in dispatch order.
func (q *Queue) Pending(channelName string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.channels[channelName]
	if !ok {
		return nil
	}
	cp := make(taskHeap, len(ch.pending))
	copy(cp, ch.pending)
	out := make([]Task, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, *heap.Pop(&cp).(*Task))
	}
	return out
}

// Len returns the number of waiting tasks across channels.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, ch := range q.channels {
		n += ch.pending.Len()
	}
	return n
}

// Start launches the worker pools.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ctx, q.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	q.group = g
	for _, ch := range q.channels {
		for i := 0; i < ch.workers; i++ {
			g.Go(func() error {
				q.work(ctx, ch)
				return nil
			})
		}
	}
	q.logger.Info("task queue started", "channels", len(q.channels))
}

// Stop cancels the workers and waits for running tasks to return. Tasks
// still waiting are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	g := q.group
	for t := range q.timers {
		t.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		g.Wait()
	}
	q.logger.Info("task queue stopped")
}

func (q *Queue) work(ctx context.Context, ch *channel) {
	for {
		q.mu.Lock()
		t := q.popLocked(ch)
		q.mu.Unlock()

		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-ch.wake:
				continue
			}
		}

		if err := q.run(ctx, t); err != nil {
			q.retry(t, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) run(ctx context.Context, t *Task) (err error) {
	q.mu.Lock()
	h := q.handlers[t.Name]
	q.mu.Unlock()

	t.Attempt++
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		q.metrics.TaskFinished(t.Channel, t.Name, outcome, time.Since(start))
	}()

	return h(ctx, *t)
}

func (q *Queue) retry(t *Task, err error) {
	if t.Attempt >= q.cfg.MaxAttempts {
		q.logger.Error("task failed permanently", "task", t.Name, "id", t.ID, "attempts", t.Attempt, "error", err)
		return
	}
	delay := q.backoff(t.Attempt)
	q.logger.Warn("task failed, retrying", "task", t.Name, "id", t.ID, "attempt", t.Attempt, "delay", delay, "error", err)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.stopped {
			return
		}
		q.pushLocked(q.channels[t.Channel], t)
	})
	q.timers[timer] = struct{}{}
}

func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return d
}

// RunPending drains every channel on the calling goroutine, highest priority
// first, including tasks enqueued by handlers while draining. Failed tasks
// are retried immediately up to MaxAttempts. It is used by the CLI and tests
// when no workers are running.
func (q *Queue) RunPending(ctx context.Context) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := q.popNext()
		if t == nil {
			return errors.Join(errs...)
		}
		for {
			err := q.run(ctx, t)
			if err == nil {
				break
			}
			if t.Attempt >= q.cfg.MaxAttempts {
				q.logger.Error("task failed permanently", "task", t.Name, "id", t.ID, "attempts", t.Attempt, "error", err)
				errs = append(errs, fmt.Errorf("%s %s: %w", t.Name, t.ID, err))
				break
			}
		}
	}
}

// popNext pops the most urgent task across all channels.
func (q *Queue) popNext() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best *channel
	for _, ch := range q.channels {
		if ch.pending.Len() == 0 {
			continue
		}
		if best == nil || ch.pending.headBefore(best.pending) {
			best = ch
		}
	}
	if best == nil {
		return nil
	}
	return q.popLocked(best)
}
