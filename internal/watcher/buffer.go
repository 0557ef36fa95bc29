package watcher

import (
	"log/slog"
	"sync/atomic"
)

// eventBuffer is the bounded hand-off between a producer goroutine and the
// debouncer. Only one goroutine may call emit.
type eventBuffer struct {
	ch      chan ChangeEvent
	policy  OverflowPolicy
	stopCh  <-chan struct{}
	dropped atomic.Uint64
}

func newEventBuffer(size int, policy OverflowPolicy, stopCh <-chan struct{}) *eventBuffer {
	return &eventBuffer{
		ch:     make(chan ChangeEvent, size),
		policy: policy,
		stopCh: stopCh,
	}
}

// emit delivers ev according to the overflow policy. It returns false if the
// watcher stopped before the event could be delivered.
func (b *eventBuffer) emit(ev ChangeEvent) bool {
	if b.policy != OverflowDropOldest {
		select {
		case b.ch <- ev:
			return true
		case <-b.stopCh:
			return false
		}
	}

	for {
		select {
		case b.ch <- ev:
			return true
		case <-b.stopCh:
			return false
		default:
		}

		// Full: evict the oldest buffered event. The consumer may have
		// drained it concurrently, in which case the retry succeeds.
		select {
		case old := <-b.ch:
			n := b.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				slog.Warn("event buffer full, dropping oldest event",
					slog.String("dropped_path", old.Path),
					slog.Uint64("total_dropped", n))
			}
		default:
		}
	}
}

func (b *eventBuffer) close() {
	close(b.ch)
}
