package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/registry/internal/metrics"
	"github.com/dukerupert/registry/internal/store"
)

// Writer computes indicator values and stores them on groups.
type Writer struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewWriter(m *metrics.Metrics) *Writer {
	return &Writer{metrics: m, now: time.Now}
}

// ComputeAndSet aggregates def over groupIDs and writes one value per group
// inside tx: the count, or 1/0 when def.PresenceOnly. Groups absent from the
// aggregate are written as 0. Counting reads through tx, so the values match
// the state being committed.
func (w *Writer) ComputeAndSet(ctx context.Context, tx store.DBTX, groupIDs []int64, def Definition) error {
	if len(groupIDs) == 0 {
		return nil
	}

	start := w.now()
	counts, err := NewAggregator(tx).CountMembers(ctx, groupIDs, def.Kinds, def.Filter, start)
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", def.Name, err)
	}
	w.metrics.ObserveAggregate(def.Name, time.Since(start))

	values := counts
	if def.PresenceOnly {
		values = make(map[int64]int64, len(counts))
		for id, n := range counts {
			if n > 0 {
				values[id] = 1
			}
		}
	}

	if err := store.NewIndicatorStore(tx).Set(ctx, def.Name, groupIDs, values, start); err != nil {
		return fmt.Errorf("write %s: %w", def.Name, err)
	}
	return nil
}
