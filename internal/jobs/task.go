package jobs

import (
	"container/heap"
	"encoding/json"
	"time"
)

// Task is one unit of work addressed to a named handler on a channel.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Channel    string          `json:"channel"`
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	seq uint64
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// taskHeap orders tasks by priority (lower first), then by enqueue order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)

// headBefore reports whether the head of h dispatches before the head of other.
func (h taskHeap) headBefore(other taskHeap) bool {
	if h[0].Priority != other[0].Priority {
		return h[0].Priority < other[0].Priority
	}
	return h[0].seq < other[0].seq
}
