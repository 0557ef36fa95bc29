package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Handler that records applied operations and can hold a
// path until released.
type recorder struct {
	mu      sync.Mutex
	applied []Op
	gates   map[string]chan struct{}
	started chan string
}

func newRecorder() *recorder {
	return &recorder{gates: make(map[string]chan struct{}), started: make(chan string, 64)}
}

func (r *recorder) hold(path string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[path] = ch
	return ch
}

func (r *recorder) handle(ctx context.Context, op Op) error {
	r.mu.Lock()
	gate := r.gates[op.Path]
	delete(r.gates, op.Path)
	r.mu.Unlock()

	r.started <- op.Path
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.applied = append(r.applied, op)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.applied...)
}

func waitStarted(t *testing.T, r *recorder, path string) {
	t.Helper()
	select {
	case got := <-r.started:
		require.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s to start", path)
	}
}

func drain(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func TestQueue_CoalescesWaitingOperation(t *testing.T) {
	// Given: a single worker busy with another path
	r := newRecorder()
	q := New(r.handle, Options{Workers: 1})
	q.Start(context.Background())
	defer func() { _ = q.Close() }()

	release := r.hold("/busy")
	_, err := q.Enqueue(Op{Path: "/busy", Kind: KindUpsert})
	require.NoError(t, err)
	waitStarted(t, r, "/busy")

	// When: two operations for the same waiting path arrive
	_, err = q.Enqueue(Op{Path: "/a", Kind: KindUpsert})
	require.NoError(t, err)
	seq, err := q.Enqueue(Op{Path: "/a", Kind: KindDelete})
	require.NoError(t, err)

	state, ok := q.State("/a")
	require.True(t, ok)
	assert.Equal(t, StatePendingDelete, state)

	close(release)
	drain(t, q)

	// Then: only the latest intent is applied
	ops := r.ops()
	require.Len(t, ops, 2)
	assert.Equal(t, "/a", ops[1].Path)
	assert.Equal(t, KindDelete, ops[1].Kind)
	assert.Equal(t, seq, ops[1].Seq)

	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Coalesced)
	assert.Equal(t, uint64(2), stats.Applied)
}

func TestQueue_ParksOperationWhilePathInFlight(t *testing.T) {
	// Given: many workers and a path held in flight
	r := newRecorder()
	q := New(r.handle, Options{Workers: 4})
	q.Start(context.Background())
	defer func() { _ = q.Close() }()

	release := r.hold("/a")
	_, err := q.Enqueue(Op{Path: "/a", Kind: KindUpsert})
	require.NoError(t, err)
	waitStarted(t, r, "/a")

	// When: a second operation for the same path arrives
	_, err = q.Enqueue(Op{Path: "/a", Kind: KindDelete})
	require.NoError(t, err)

	// Then: it does not start until the first one completes
	select {
	case p := <-r.started:
		t.Fatalf("%s started while in flight", p)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	drain(t, q)

	ops := r.ops()
	require.Len(t, ops, 2)
	assert.Equal(t, KindUpsert, ops[0].Kind)
	assert.Equal(t, KindDelete, ops[1].Kind)
	assert.Less(t, ops[0].Seq, ops[1].Seq)
}

func TestQueue_SerializesPerPathAndRunsPathsConcurrently(t *testing.T) {
	const workers = 3

	var (
		mu        sync.Mutex
		active    = map[string]int{}
		running   int32
		maxActive int32
		lastSeq   = map[string]uint64{}
		violation atomic.Bool
	)
	handler := func(_ context.Context, op Op) error {
		mu.Lock()
		active[op.Path]++
		if active[op.Path] > 1 || op.Seq < lastSeq[op.Path] {
			violation.Store(true)
		}
		lastSeq[op.Path] = op.Seq
		mu.Unlock()

		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)

		mu.Lock()
		active[op.Path]--
		mu.Unlock()
		return nil
	}

	q := New(handler, Options{Workers: workers})
	q.Start(context.Background())
	defer func() { _ = q.Close() }()

	// When: many operations across a few paths are enqueued
	for i := 0; i < 200; i++ {
		kind := KindUpsert
		if i%3 == 0 {
			kind = KindDelete
		}
		_, err := q.Enqueue(Op{Path: fmt.Sprintf("/p%d", i%8), Kind: kind})
		require.NoError(t, err)
	}
	drain(t, q)

	// Then: no path ran twice at once, per-path order held, and the pool bound held
	assert.False(t, violation.Load())
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(workers))
	assert.Greater(t, atomic.LoadInt32(&maxActive), int32(1))

	stats := q.Stats()
	assert.Equal(t, stats.Enqueued, stats.Applied+stats.Coalesced)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.InFlight)
}

func TestQueue_CountsFailures(t *testing.T) {
	q := New(func(_ context.Context, op Op) error {
		if op.Path == "/bad" {
			return errors.New("boom")
		}
		return nil
	}, Options{Workers: 2})
	q.Start(context.Background())
	defer func() { _ = q.Close() }()

	_, err := q.Enqueue(Op{Path: "/bad", Kind: KindUpsert})
	require.NoError(t, err)
	_, err = q.Enqueue(Op{Path: "/good", Kind: KindUpsert})
	require.NoError(t, err)
	drain(t, q)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Applied)
}

func TestQueue_IdleHookFiresWhenEmpty(t *testing.T) {
	idle := make(chan struct{}, 8)
	q := New(func(context.Context, Op) error { return nil }, Options{
		Workers: 2,
		OnIdle:  func() { idle <- struct{}{} },
	})
	q.Start(context.Background())
	defer func() { _ = q.Close() }()

	_, err := q.Enqueue(Op{Path: "/a", Kind: KindUpsert})
	require.NoError(t, err)

	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("idle hook did not fire")
	}
}

func TestQueue_DrainHonoursContext(t *testing.T) {
	// Given: an operation that never finishes on its own
	r := newRecorder()
	q := New(r.handle, Options{Workers: 1})
	ctx, cancelRun := context.WithCancel(context.Background())
	q.Start(ctx)

	r.hold("/stuck")
	_, err := q.Enqueue(Op{Path: "/stuck", Kind: KindUpsert})
	require.NoError(t, err)
	waitStarted(t, r, "/stuck")

	// When: draining with a short deadline
	dctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = q.Drain(dctx)

	// Then: the deadline is reported
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelRun()
	require.NoError(t, q.Close())
}

func TestQueue_DrainOnEmptyQueueReturnsImmediately(t *testing.T) {
	q := New(func(context.Context, Op) error { return nil }, Options{})
	q.Start(context.Background())
	defer func() { _ = q.Close() }()

	drain(t, q)
	_, ok := q.State("/nothing")
	assert.False(t, ok)
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(func(context.Context, Op) error { return nil }, Options{Workers: 1})
	q.Start(context.Background())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Enqueue(Op{Path: "/a", Kind: KindUpsert})
	assert.ErrorIs(t, err, ErrClosed)

	// Drain on a closed queue does not hang.
	drain(t, q)
}
