package watcher

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"
)

// Action is the resolved intent for a path after its window flushes.
type Action int

const (
	// ActionUpsert means the path should be (re)indexed from disk.
	ActionUpsert Action = iota
	// ActionDelete means the path (or, for directories, everything under it)
	// should be removed from the index.
	ActionDelete
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	if a == ActionDelete {
		return "DELETE"
	}
	return "UPSERT"
}

// Coalesced is the single change emitted for a path when its window flushes.
type Coalesced struct {
	Path   string
	Action Action
	IsDir  bool

	// Events is how many raw events were merged into this change.
	Events int

	FirstSeen time.Time
	LastSeen  time.Time
}

// DebounceOptions configures a Debouncer.
type DebounceOptions struct {
	// Idle is how long a path must be quiet before its window flushes.
	// Default: 500ms
	Idle time.Duration

	// MaxAge bounds a window's lifetime under continuous writes.
	// Default: 10 × Idle
	MaxAge time.Duration

	// OutputBuffer is the capacity of the Output channel.
	// Default: 256
	OutputBuffer int
}

// window is the buffered state for one path.
type window struct {
	kind      Kind
	isDir     bool
	events    int
	firstSeen time.Time
	lastSeen  time.Time
	gen       uint64
}

// DebounceStats reports debouncer counters.
type DebounceStats struct {
	EventsIn   uint64 `json:"events_in"`
	Flushed    uint64 `json:"flushed"`
	Discarded  uint64 `json:"discarded"`
	OpenWindow int64  `json:"open_windows"`
}

// Debouncer collapses bursts of events per path into one Coalesced change.
//
// Resolution: if the latest observed kind is KindRemoved the change is
// ActionDelete, otherwise ActionUpsert. All state is owned by the goroutine
// running Run; other goroutines interact only through channels.
type Debouncer struct {
	idle   time.Duration
	maxAge time.Duration

	windows   map[string]*window
	deadlines deadlineQueue
	gen       uint64

	output   chan Coalesced
	flushReq chan chan struct{}
	done     chan struct{}

	eventsIn  atomic.Uint64
	flushed   atomic.Uint64
	discarded atomic.Uint64
	open      atomic.Int64
}

// NewDebouncer creates a debouncer. Call Run to start it.
func NewDebouncer(opts DebounceOptions) *Debouncer {
	if opts.Idle <= 0 {
		opts.Idle = 500 * time.Millisecond
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 10 * opts.Idle
	}
	if opts.MaxAge < opts.Idle {
		opts.MaxAge = opts.Idle
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = 256
	}
	return &Debouncer{
		idle:     opts.Idle,
		maxAge:   opts.MaxAge,
		windows:  make(map[string]*window),
		output:   make(chan Coalesced, opts.OutputBuffer),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
	}
}

// Output returns the channel of coalesced changes. It is closed when Run returns.
func (d *Debouncer) Output() <-chan Coalesced {
	return d.output
}

// Done is closed when Run has returned.
func (d *Debouncer) Done() <-chan struct{} {
	return d.done
}

// Run consumes in until it is closed, then force-flushes every open window
// and closes Output. If ctx is cancelled first, open windows are discarded.
func (d *Debouncer) Run(ctx context.Context, in <-chan ChangeEvent) {
	defer close(d.done)
	defer close(d.output)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var timerC <-chan time.Time
		if next, ok := d.nextDeadline(); ok {
			timer.Reset(time.Until(next))
			timerC = timer.C
		}

		select {
		case ev, ok := <-in:
			if !ok {
				d.flushAll(ctx)
				return
			}
			d.observe(ev, time.Now())

		case now := <-timerC:
			d.flushDue(ctx, now)

		case reply := <-d.flushReq:
			d.flushAll(ctx)
			close(reply)

		case <-ctx.Done():
			if n := len(d.windows); n > 0 {
				d.discarded.Add(uint64(n))
				slog.Warn("debouncer cancelled, discarding open windows", slog.Int("windows", n))
			}
			return
		}
		timer.Stop()
	}
}

// Flush forces every open window to flush now and waits until the
// resulting changes are on Output.
func (d *Debouncer) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case d.flushReq <- reply:
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the debouncer counters.
func (d *Debouncer) Stats() DebounceStats {
	return DebounceStats{
		EventsIn:   d.eventsIn.Load(),
		Flushed:    d.flushed.Load(),
		Discarded:  d.discarded.Load(),
		OpenWindow: d.open.Load(),
	}
}

// observe records ev in its path's window and schedules the next check.
func (d *Debouncer) observe(ev ChangeEvent, now time.Time) {
	d.eventsIn.Add(1)

	w, ok := d.windows[ev.Path]
	if !ok {
		w = &window{firstSeen: now}
		d.windows[ev.Path] = w
		d.open.Add(1)
	}
	w.kind = ev.Kind
	w.isDir = ev.IsDir
	w.events++
	w.lastSeen = now

	d.gen++
	w.gen = d.gen
	heap.Push(&d.deadlines, deadlineEntry{path: ev.Path, deadline: d.deadlineOf(w), gen: w.gen})
}

// deadlineOf is the earlier of the idle deadline and the max-age deadline.
func (d *Debouncer) deadlineOf(w *window) time.Time {
	idle := w.lastSeen.Add(d.idle)
	aged := w.firstSeen.Add(d.maxAge)
	if aged.Before(idle) {
		return aged
	}
	return idle
}

// nextDeadline drops stale heap entries and returns the earliest live deadline.
func (d *Debouncer) nextDeadline() (time.Time, bool) {
	for {
		top, ok := d.deadlines.peek()
		if !ok {
			return time.Time{}, false
		}
		if w, live := d.windows[top.path]; live && w.gen == top.gen {
			return top.deadline, true
		}
		heap.Pop(&d.deadlines)
	}
}

// flushDue flushes every window whose deadline is at or before now.
func (d *Debouncer) flushDue(ctx context.Context, now time.Time) {
	for {
		next, ok := d.nextDeadline()
		if !ok || next.After(now) {
			return
		}
		top := heap.Pop(&d.deadlines).(deadlineEntry)
		d.emit(ctx, top.path)
	}
}

// flushAll flushes every open window in path order.
func (d *Debouncer) flushAll(ctx context.Context) {
	paths := make([]string, 0, len(d.windows))
	for p := range d.windows {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		d.emit(ctx, p)
	}
	d.deadlines = d.deadlines[:0]
}

func (d *Debouncer) emit(ctx context.Context, path string) {
	w := d.windows[path]
	delete(d.windows, path)
	d.open.Add(-1)

	c := Coalesced{
		Path:      path,
		Action:    resolve(w.kind),
		IsDir:     w.isDir,
		Events:    w.events,
		FirstSeen: w.firstSeen,
		LastSeen:  w.lastSeen,
	}

	// Blocking send: backpressure propagates to the watcher's buffer.
	select {
	case d.output <- c:
		d.flushed.Add(1)
	case <-ctx.Done():
		d.discarded.Add(1)
	}
}

// resolve maps the terminal observed kind to an action.
func resolve(k Kind) Action {
	if k == KindRemoved {
		return ActionDelete
	}
	return ActionUpsert
}
