package recompute

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/registry/internal/metrics"
)

// FlushFunc receives the groups collected since the previous flush.
type FlushFunc func(groupIDs []int64) error

// DirtySet collects group ids that need indicator recomputation and hands
// them over in one batch after a debounce window, or as soon as it holds
// maxSize groups. Marking a group twice between flushes is a no-op.
type DirtySet struct {
	mu       sync.Mutex
	pending  map[int64]struct{}
	timer    *time.Timer
	debounce time.Duration
	maxSize  int
	flush    FlushFunc
	stopped  bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDirtySet(debounce time.Duration, maxSize int, flush FlushFunc, logger *slog.Logger, m *metrics.Metrics) *DirtySet {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &DirtySet{
		pending:  make(map[int64]struct{}),
		debounce: debounce,
		maxSize:  maxSize,
		flush:    flush,
		logger:   logger.With("component", "dirty-set"),
		metrics:  m,
	}
}

// Add marks groups dirty.
func (d *DirtySet) Add(groupIDs ...int64) {
	if len(groupIDs) == 0 {
		return
	}

	d.mu.Lock()
	for _, id := range groupIDs {
		d.pending[id] = struct{}{}
	}
	n := len(d.pending)
	full := n >= d.maxSize
	if !full && d.timer == nil && !d.stopped {
		d.timer = time.AfterFunc(d.debounce, d.Flush)
	}
	d.mu.Unlock()

	d.metrics.SetDirtyGroups(n)
	if full {
		d.Flush()
	}
}

// Len returns the number of groups waiting for the next flush.
func (d *DirtySet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush hands the pending groups to the flush function now. On failure the
// groups are put back and retried after the next debounce window.
func (d *DirtySet) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.pending = make(map[int64]struct{})
	d.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	d.metrics.SetDirtyGroups(0)

	if err := d.flush(ids); err != nil {
		d.logger.Error("flush dirty groups", "groups", len(ids), "error", err)
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.Add(ids...)
		}
		return
	}
	d.metrics.IncDirtyFlush()
	d.logger.Debug("flushed dirty groups", "groups", len(ids))
}

// Stop cancels the pending timer and flushes what is left.
func (d *DirtySet) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.Flush()
}
