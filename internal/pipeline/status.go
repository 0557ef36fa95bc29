package pipeline

import (
	"context"
	"path/filepath"

	"github.com/Aman-CERP/fstext/internal/async"
	"github.com/Aman-CERP/fstext/internal/index"
	"github.com/Aman-CERP/fstext/internal/queue"
	"github.com/Aman-CERP/fstext/internal/watcher"
)

// Status describes the running pipeline.
type Status struct {
	Root          string                `json:"root"`
	IndexDir      string                `json:"index_dir,omitempty"`
	Backend       string                `json:"backend"`
	Watcher       string                `json:"watcher,omitempty"`
	Progress      async.Snapshot        `json:"progress"`
	Documents     int                   `json:"documents"`
	Staged        int                   `json:"staged"`
	Queue         queue.Stats           `json:"queue"`
	Applier       index.Stats           `json:"applier"`
	Debounce      watcher.DebounceStats `json:"debounce"`
	DroppedEvents uint64                `json:"dropped_events"`
}

// Status gathers the current state of every stage.
func (p *Pipeline) Status(ctx context.Context) Status {
	st := Status{
		Root:     p.root,
		IndexDir: p.indexDir,
		Backend:  p.cfg.Index.Backend,
		Progress: p.progress.Snapshot(),
	}
	if st.IndexDir == "" {
		st.IndexDir = "(memory)"
	}
	if p.idx != nil {
		st.Documents, _ = p.idx.Count(ctx)
		st.Staged = p.idx.Pending()
	}
	if p.queue != nil {
		st.Queue = p.queue.Stats()
	}
	if p.applier != nil {
		st.Applier = p.applier.Stats()
	}
	if p.watcher != nil {
		st.Watcher = p.watcher.WatcherType()
		st.DroppedEvents = p.watcher.Dropped()
	}
	if p.debouncer != nil {
		st.Debounce = p.debouncer.Stats()
	}
	return st
}

// PathState reports where path stands: pending in the queue, applied but
// not yet committed, committed in the index, or absent. Relative paths
// resolve against the watch root.
func (p *Pipeline) PathState(ctx context.Context, path string) (queue.PathState, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root, path)
	}
	path = filepath.Clean(path)

	if p.queue != nil {
		if state, ok := p.queue.State(path); ok {
			return state, nil
		}
	}
	if p.idx == nil {
		return queue.StateAbsent, nil
	}
	if deleted, staged := p.idx.Staged(path); staged {
		if deleted {
			return queue.StatePendingDelete, nil
		}
		return queue.StatePendingUpsert, nil
	}
	_, ok, err := p.idx.Get(ctx, path)
	if err != nil {
		return queue.StateAbsent, err
	}
	if ok {
		return queue.StateIndexed, nil
	}
	return queue.StateAbsent, nil
}
