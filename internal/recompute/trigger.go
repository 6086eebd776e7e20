// Package recompute turns membership mutations into indicator recompute
// tasks and runs those tasks against the indicator engine.
package recompute

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/registry/internal/indicator"
	"github.com/dukerupert/registry/internal/metrics"
	"github.com/dukerupert/registry/internal/store"
)

const (
	TaskRecompute      = "recompute_indicators"
	TaskRecomputeBatch = "recompute_indicators_for_batch"

	ChannelInteractive = "recompute.interactive"
	ChannelBatch       = "recompute.batch"

	PriorityInteractive = 5
	PriorityBatch       = 20

	DefaultBatchSize = 10000
)

// RecomputePayload is the payload of recompute_indicators.
type RecomputePayload struct {
	GroupIDs []int64  `json:"group_ids"`
	Fields   []string `json:"fields,omitempty"`
}

// BatchPayload is the payload of recompute_indicators_for_batch: one window
// of active groups ordered by id.
type BatchPayload struct {
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
	Fields []string `json:"fields,omitempty"`
}

// Enqueuer schedules tasks. *jobs.Queue satisfies it.
type Enqueuer interface {
	Enqueue(name, channel string, priority int, payload any) (string, error)
}

// Options tunes a Trigger.
type Options struct {
	BatchSize     int
	Debounce      time.Duration
	DirtyCapacity int
}

// Trigger marks groups dirty and schedules recompute tasks.
type Trigger struct {
	queue       Enqueuer
	registry    *indicator.Registry
	registrants *store.RegistrantStore
	states      *store.RecomputeStateStore
	dirty       *DirtySet
	batchSize   int
	logger      *slog.Logger
	now         func() time.Time
}

func NewTrigger(db *sql.DB, queue Enqueuer, registry *indicator.Registry, opts Options, logger *slog.Logger, m *metrics.Metrics) *Trigger {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	t := &Trigger{
		queue:       queue,
		registry:    registry,
		registrants: store.NewRegistrantStore(db),
		states:      store.NewRecomputeStateStore(db),
		batchSize:   opts.BatchSize,
		logger:      logger.With("component", "recompute"),
		now:         time.Now,
	}
	t.dirty = NewDirtySet(opts.Debounce, opts.DirtyCapacity, func(ids []int64) error {
		_, err := t.RecomputeFields(context.Background(), ids, nil)
		return err
	}, logger, m)
	return t
}

// Stamp sets the recompute canary of the groups inside the caller's
// transaction. Call MarkDirty once the transaction has committed.
func (t *Trigger) Stamp(ctx context.Context, tx store.DBTX, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	return store.NewRecomputeStateStore(tx).TouchCanary(ctx, groupIDs, t.now())
}

// MarkDirty queues the groups for the next dirty-set flush.
func (t *Trigger) MarkDirty(groupIDs ...int64) {
	t.dirty.Add(groupIDs...)
}

// Dirty exposes the dirty set for flushing and shutdown.
func (t *Trigger) Dirty() *DirtySet {
	return t.dirty
}

// RecomputeFields schedules an interactive recompute of fields (all when
// empty) for the given groups.
func (t *Trigger) RecomputeFields(ctx context.Context, groupIDs []int64, fields []string) (string, error) {
	if len(groupIDs) == 0 {
		return "", nil
	}
	if _, err := t.registry.Select(fields); err != nil {
		return "", err
	}
	id, err := t.queue.Enqueue(TaskRecompute, ChannelInteractive, PriorityInteractive,
		RecomputePayload{GroupIDs: groupIDs, Fields: fields})
	if err != nil {
		return "", fmt.Errorf("enqueue recompute: %w", err)
	}
	return id, nil
}

// RecomputeAll schedules one batch task per window of active groups and
// returns the number of tasks scheduled.
func (t *Trigger) RecomputeAll(ctx context.Context, fields []string) (int, error) {
	if _, err := t.registry.Select(fields); err != nil {
		return 0, err
	}
	total, err := t.registrants.CountActiveGroups(ctx)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for offset := 0; offset < total; offset += t.batchSize {
		_, err := t.queue.Enqueue(TaskRecomputeBatch, ChannelBatch, PriorityBatch,
			BatchPayload{Offset: offset, Limit: t.batchSize, Fields: fields})
		if err != nil {
			return scheduled, fmt.Errorf("enqueue batch at offset %d: %w", offset, err)
		}
		scheduled++
	}
	t.logger.Info("scheduled full recompute", "groups", total, "batches", scheduled)
	return scheduled, nil
}

// ResumeDirty re-queues groups whose canary is newer than their last
// recompute, such as marks lost on a restart.
func (t *Trigger) ResumeDirty(ctx context.Context) (int, error) {
	ids, err := t.states.ListDirty(ctx, t.batchSize)
	if err != nil {
		return 0, err
	}
	t.MarkDirty(ids...)
	return len(ids), nil
}
