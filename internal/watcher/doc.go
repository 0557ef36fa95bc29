// Package watcher turns raw filesystem notifications into coalesced,
// per-path index intents.
//
// HybridWatcher recursively observes a root with fsnotify, falling back to
// periodic polling where fsnotify is unavailable. It delivers ChangeEvents
// on a bounded channel whose overflow behavior is selected by
// OverflowPolicy. A Debouncer consumes that channel on a single goroutine
// and emits one Coalesced change per path once the path has been quiet for
// the idle interval or its window reaches the maximum age.
//
// Usage:
//
//	w := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err := w.Start(ctx, root); err != nil {
//	    return err // fatal: root cannot be watched
//	}
//	d := watcher.NewDebouncer(watcher.DebounceOptions{Idle: 500 * time.Millisecond})
//	go d.Run(ctx, w.Events())
//	for c := range d.Output() {
//	    // c.Action is ActionUpsert or ActionDelete
//	}
package watcher
