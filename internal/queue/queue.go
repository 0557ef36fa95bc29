// Package queue serializes index operations per path and dispatches
// distinct paths to a bounded pool of workers.
//
// Each path has at most one operation in flight. A newer operation for a
// path that is still waiting replaces the waiting one, so only the latest
// intent is applied. An operation that arrives while the path is in flight
// is parked and dispatched when the in-flight one completes.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Kind is the mutation an operation requests.
type Kind int

const (
	// KindUpsert indexes the current content of the path.
	KindUpsert Kind = iota
	// KindDelete removes the path from the index.
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindUpsert:
		return "upsert"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one index operation. Seq is assigned by Enqueue and increases
// monotonically across the queue.
type Op struct {
	Path string
	Kind Kind
	Seq  uint64
}

// PathState describes where a path stands in the pipeline.
type PathState int

const (
	StateAbsent PathState = iota
	StateIndexed
	StatePendingUpsert
	StatePendingDelete
)

func (s PathState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateIndexed:
		return "indexed"
	case StatePendingUpsert:
		return "pending_upsert"
	case StatePendingDelete:
		return "pending_delete"
	default:
		return "unknown"
	}
}

// Handler applies one operation. Errors are counted and logged; they never
// stop the queue.
type Handler func(ctx context.Context, op Op) error

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue is closed")

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 4

// Options configures a Queue.
type Options struct {
	Workers int
	// OnIdle is called from a worker each time the queue becomes empty with
	// nothing in flight.
	OnIdle func()
}

// Stats are cumulative counters plus the current backlog.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Coalesced uint64 `json:"coalesced"`
	Applied   uint64 `json:"applied"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
	InFlight  int    `json:"in_flight"`
}

// Queue is a per-path serializing work queue.
type Queue struct {
	handler Handler
	opts    Options

	mu       sync.Mutex
	pending  map[string]Op
	inflight map[string]Op
	ready    []string
	seq      uint64
	stats    Stats
	idle     chan struct{}
	closed   bool
	started  bool

	signal chan struct{}
	stopCh chan struct{}
	group  *errgroup.Group
}

// New creates a queue. Call Start to begin dispatching.
func New(handler Handler, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		handler:  handler,
		opts:     opts,
		pending:  make(map[string]Op),
		inflight: make(map[string]Op),
		idle:     idle,
		signal:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the workers. ctx is passed to the handler; cancelling it
// stops the workers as Close does.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.opts.Workers)
	for i := 0; i < q.opts.Workers; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}
	q.group = g
}

// Enqueue adds op, coalescing with a waiting operation for the same path.
// It returns the assigned sequence number.
func (q *Queue) Enqueue(op Op) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	q.seq++
	op.Seq = q.seq
	q.stats.Enqueued++

	if !q.busy() {
		q.idle = make(chan struct{})
	}

	if _, waiting := q.pending[op.Path]; waiting {
		q.stats.Coalesced++
		q.pending[op.Path] = op
		return op.Seq, nil
	}

	q.pending[op.Path] = op
	if _, running := q.inflight[op.Path]; !running {
		q.ready = append(q.ready, op.Path)
		q.wake()
	}
	return op.Seq, nil
}

// State reports the pending state of path, or false if the queue holds
// nothing for it. A waiting operation takes precedence over an in-flight one.
func (q *Queue) State(path string) (PathState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.pending[path]
	if !ok {
		op, ok = q.inflight[path]
	}
	if !ok {
		return StateAbsent, false
	}
	if op.Kind == KindDelete {
		return StatePendingDelete, true
	}
	return StatePendingUpsert, true
}

// Drain waits until nothing is waiting or in flight, or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.InFlight = len(q.inflight)
	return s
}

// Close stops accepting operations, stops the workers after their current
// operation, and waits for them. Waiting operations are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = make(map[string]Op)
	q.ready = nil
	if len(q.inflight) == 0 {
		q.markIdle()
	}
	close(q.stopCh)
	g := q.group
	q.mu.Unlock()

	if dropped > 0 {
		slog.Warn("queue closed with pending operations", slog.Int("dropped", dropped))
	}
	if g != nil {
		return g.Wait()
	}
	return nil
}

func (q *Queue) busy() bool {
	return len(q.pending) > 0 || len(q.inflight) > 0
}

// markIdle releases Drain waiters. Callers hold q.mu.
func (q *Queue) markIdle() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		op, ok := q.next()
		if !ok {
			select {
			case <-q.signal:
				continue
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		err := q.handler(ctx, op)
		q.complete(op, err)
	}
}

// next pops the oldest ready path and marks it in flight.
func (q *Queue) next() (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.ready) == 0 {
		return Op{}, false
	}

	path := q.ready[0]
	q.ready[0] = ""
	q.ready = q.ready[1:]

	op := q.pending[path]
	delete(q.pending, path)
	q.inflight[path] = op

	// Other workers may have gone idle while this one held the signal.
	if len(q.ready) > 0 {
		q.wake()
	}
	return op, true
}

func (q *Queue) complete(op Op, err error) {
	q.mu.Lock()
	delete(q.inflight, op.Path)
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Applied++
	}

	if _, parked := q.pending[op.Path]; parked {
		q.ready = append(q.ready, op.Path)
		q.wake()
	}

	becameIdle := !q.busy()
	if becameIdle {
		q.markIdle()
	}
	onIdle := q.opts.OnIdle
	q.mu.Unlock()

	if err != nil {
		slog.Warn("index operation failed",
			slog.String("path", op.Path),
			slog.String("kind", op.Kind.String()),
			slog.Uint64("seq", op.Seq),
			slog.String("error", err.Error()))
	}
	if becameIdle && onIdle != nil {
		onIdle()
	}
}
