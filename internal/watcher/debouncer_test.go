package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDebouncer runs a debouncer over a fresh input channel.
func startDebouncer(t *testing.T, opts DebounceOptions) (*Debouncer, chan ChangeEvent) {
	t.Helper()
	d := NewDebouncer(opts)
	in := make(chan ChangeEvent, 64)
	go d.Run(context.Background(), in)
	t.Cleanup(func() {
		select {
		case <-d.Done():
		default:
			close(in)
			for range d.Output() {
			}
		}
	})
	return d, in
}

func receive(t *testing.T, d *Debouncer, timeout time.Duration) Coalesced {
	t.Helper()
	select {
	case c, ok := <-d.Output():
		require.True(t, ok, "output closed")
		return c
	case <-time.After(timeout):
		t.Fatal("timeout waiting for coalesced change")
		return Coalesced{}
	}
}

func assertQuiet(t *testing.T, d *Debouncer, wait time.Duration) {
	t.Helper()
	select {
	case c := <-d.Output():
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(wait):
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short idle interval
	d, in := startDebouncer(t, DebounceOptions{Idle: 30 * time.Millisecond})

	// When: a single create event arrives
	in <- ChangeEvent{Path: "/r/a.txt", Kind: KindCreated}

	// Then: one upsert comes out after the idle interval
	c := receive(t, d, time.Second)
	assert.Equal(t, "/r/a.txt", c.Path)
	assert.Equal(t, ActionUpsert, c.Action)
	assert.Equal(t, 1, c.Events)
}

func TestDebouncer_BurstCollapsesToOneUpsert(t *testing.T) {
	// Given: a debouncer with a 100ms idle interval
	d, in := startDebouncer(t, DebounceOptions{Idle: 100 * time.Millisecond, MaxAge: 5 * time.Second})

	// When: ten modify events arrive 5ms apart
	for i := 0; i < 10; i++ {
		in <- ChangeEvent{Path: "/r/a.txt", Kind: KindModified}
		time.Sleep(5 * time.Millisecond)
	}

	// Then: exactly one upsert carrying all ten events
	c := receive(t, d, time.Second)
	assert.Equal(t, ActionUpsert, c.Action)
	assert.Equal(t, 10, c.Events)
	assertQuiet(t, d, 200*time.Millisecond)
}

func TestDebouncer_LatestKindWins(t *testing.T) {
	tests := []struct {
		name  string
		kinds []Kind
		want  Action
	}{
		{"create then modify", []Kind{KindCreated, KindModified}, ActionUpsert},
		{"modify then remove", []Kind{KindModified, KindRemoved}, ActionDelete},
		{"create then remove", []Kind{KindCreated, KindRemoved}, ActionDelete},
		{"remove then create", []Kind{KindRemoved, KindCreated}, ActionUpsert},
		{"renamed", []Kind{KindRenamed}, ActionUpsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, in := startDebouncer(t, DebounceOptions{Idle: 20 * time.Millisecond})

			for _, k := range tt.kinds {
				in <- ChangeEvent{Path: "/r/x.md", Kind: k}
			}

			c := receive(t, d, time.Second)
			assert.Equal(t, tt.want, c.Action)
			assert.Equal(t, len(tt.kinds), c.Events)
		})
	}
}

func TestDebouncer_MaxAgeBoundsContinuousWrites(t *testing.T) {
	// Given: an idle interval longer than the write cadence, and a short max age
	d, in := startDebouncer(t, DebounceOptions{Idle: 80 * time.Millisecond, MaxAge: 150 * time.Millisecond})

	// When: a path is written every 20ms for 400ms
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		deadline := time.Now().Add(400 * time.Millisecond)
		for time.Now().Before(deadline) {
			in <- ChangeEvent{Path: "/r/log.txt", Kind: KindModified}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	// Then: a flush happens before the writes stop
	start := time.Now()
	c := receive(t, d, time.Second)
	assert.Equal(t, "/r/log.txt", c.Path)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	<-stop
}

func TestDebouncer_PathsFlushIndependently(t *testing.T) {
	d, in := startDebouncer(t, DebounceOptions{Idle: 40 * time.Millisecond})

	in <- ChangeEvent{Path: "/r/a.txt", Kind: KindCreated}
	in <- ChangeEvent{Path: "/r/b.txt", Kind: KindRemoved}

	got := map[string]Action{}
	for i := 0; i < 2; i++ {
		c := receive(t, d, time.Second)
		got[c.Path] = c.Action
	}
	assert.Equal(t, map[string]Action{"/r/a.txt": ActionUpsert, "/r/b.txt": ActionDelete}, got)
}

func TestDebouncer_CloseForceFlushesInPathOrder(t *testing.T) {
	// Given: a long idle interval and three open windows
	d := NewDebouncer(DebounceOptions{Idle: time.Hour})
	in := make(chan ChangeEvent, 8)
	go d.Run(context.Background(), in)

	in <- ChangeEvent{Path: "/r/c.txt", Kind: KindModified}
	in <- ChangeEvent{Path: "/r/a.txt", Kind: KindModified}
	in <- ChangeEvent{Path: "/r/b.txt", Kind: KindRemoved, IsDir: true}

	// When: the input closes
	close(in)

	// Then: every window is flushed immediately, sorted, and Output closes
	var got []Coalesced
	for c := range d.Output() {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "/r/a.txt", got[0].Path)
	assert.Equal(t, "/r/b.txt", got[1].Path)
	assert.Equal(t, ActionDelete, got[1].Action)
	assert.True(t, got[1].IsDir)
	assert.Equal(t, "/r/c.txt", got[2].Path)
	assert.Equal(t, uint64(3), d.Stats().Flushed)
}

func TestDebouncer_FlushOnDemand(t *testing.T) {
	d, in := startDebouncer(t, DebounceOptions{Idle: time.Hour})

	in <- ChangeEvent{Path: "/r/a.txt", Kind: KindCreated}
	// Give Run a moment to consume the event before flushing.
	require.Eventually(t, func() bool { return d.Stats().OpenWindow == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Flush(context.Background()))

	c := receive(t, d, 100*time.Millisecond)
	assert.Equal(t, "/r/a.txt", c.Path)
	assert.Equal(t, int64(0), d.Stats().OpenWindow)
}

func TestDebouncer_CancelDiscardsWindows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDebouncer(DebounceOptions{Idle: time.Hour})
	in := make(chan ChangeEvent, 1)
	go d.Run(ctx, in)

	in <- ChangeEvent{Path: "/r/a.txt", Kind: KindCreated}
	require.Eventually(t, func() bool { return d.Stats().EventsIn == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("debouncer did not stop")
	}
	_, ok := <-d.Output()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), d.Stats().Discarded)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, ActionDelete, resolve(KindRemoved))
	assert.Equal(t, ActionUpsert, resolve(KindCreated))
	assert.Equal(t, ActionUpsert, resolve(KindModified))
	assert.Equal(t, ActionUpsert, resolve(KindRenamed))
	assert.Equal(t, "DELETE", ActionDelete.String())
	assert.Equal(t, "REMOVED", KindRemoved.String())
}
