package watcher

import (
	"container/heap"
	"time"
)

var _ heap.Interface = (*deadlineQueue)(nil)

// deadlineEntry schedules a flush check for path. Entries are never updated
// in place: a newer event pushes a fresh entry and bumps the window's
// generation, and stale entries are discarded when they surface.
type deadlineEntry struct {
	path     string
	deadline time.Time
	gen      uint64
}

// deadlineQueue is a min-heap of flush deadlines.
type deadlineQueue []deadlineEntry

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].path < q[j].path
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q deadlineQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *deadlineQueue) Push(x any) {
	*q = append(*q, x.(deadlineEntry))
}

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// peek returns the earliest entry without removing it.
func (q deadlineQueue) peek() (deadlineEntry, bool) {
	if len(q) == 0 {
		return deadlineEntry{}, false
	}
	return q[0], true
}
