package recompute

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]int64
	fail    bool
	flushed chan struct{}
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{flushed: make(chan struct{}, 16)}
}

func (r *flushRecorder) flush(ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		r.fail = false
		return errors.New("queue unavailable")
	}
	r.batches = append(r.batches, ids)
	r.flushed <- struct{}{}
	return nil
}

func (r *flushRecorder) got() [][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int64(nil), r.batches...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirtySetDedupesAndFlushesOnce(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDirtySet(time.Hour, 100, rec.flush, discard(), nil)

	d.Add(3, 1)
	d.Add(1, 2, 3)
	assert.Equal(t, 3, d.Len())

	d.Flush()
	assert.Equal(t, [][]int64{{1, 2, 3}}, rec.got())
	assert.Equal(t, 0, d.Len())

	d.Flush()
	assert.Len(t, rec.got(), 1)
}

func TestDirtySetFlushesAtCapacity(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDirtySet(time.Hour, 3, rec.flush, discard(), nil)

	d.Add(1, 2)
	assert.Empty(t, rec.got())
	d.Add(3)
	assert.Equal(t, [][]int64{{1, 2, 3}}, rec.got())
}

func TestDirtySetFlushesAfterDebounce(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDirtySet(20*time.Millisecond, 100, rec.flush, discard(), nil)
	defer d.Stop()

	d.Add(7)
	d.Add(8)

	select {
	case <-rec.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("debounce window never flushed")
	}
	assert.Equal(t, [][]int64{{7, 8}}, rec.got())
}

func TestDirtySetKeepsGroupsWhenFlushFails(t *testing.T) {
	rec := newFlushRecorder()
	rec.fail = true
	d := NewDirtySet(time.Hour, 100, rec.flush, discard(), nil)

	d.Add(5)
	d.Flush()
	require.Equal(t, 1, d.Len())

	d.Flush()
	assert.Equal(t, [][]int64{{5}}, rec.got())
}

func TestDirtySetStopFlushesRemainder(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDirtySet(time.Hour, 100, rec.flush, discard(), nil)

	d.Add(9)
	d.Stop()
	assert.Equal(t, [][]int64{{9}}, rec.got())
}
