// Package pipeline wires the watcher, debouncer, filter, scanner, queue,
// applier, and text index together and owns their startup and shutdown
// ordering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/fstext/internal/async"
	"github.com/Aman-CERP/fstext/internal/config"
	fserrors "github.com/Aman-CERP/fstext/internal/errors"
	"github.com/Aman-CERP/fstext/internal/filter"
	"github.com/Aman-CERP/fstext/internal/index"
	"github.com/Aman-CERP/fstext/internal/queue"
	"github.com/Aman-CERP/fstext/internal/scanner"
	"github.com/Aman-CERP/fstext/internal/store"
	"github.com/Aman-CERP/fstext/internal/watcher"
)

// Pipeline keeps a text index consistent with a directory tree.
type Pipeline struct {
	cfg      *config.Config
	root     string
	indexDir string
	filter   *filter.Filter
	progress *async.Progress

	lock      *store.DirLock
	idx       store.TextIndex
	applier   *index.Applier
	queue     *queue.Queue
	watcher   *watcher.HybridWatcher
	debouncer *watcher.Debouncer

	// cancel stops background goroutines that are not stopped by closing
	// their input.
	cancel      context.CancelFunc
	forwardDone chan struct{}
	bg          sync.WaitGroup

	mu      sync.Mutex
	opened  bool
	stopped bool
}

// New resolves the configured paths and builds the filter. It has no side
// effects; Start or Load opens the index.
func New(cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Watch.Dir)
	if err != nil {
		return nil, fserrors.WatchError(cfg.Watch.Dir, err)
	}
	// Symlinked roots (e.g. /tmp on macOS) must match event paths.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	var indexDir string
	if cfg.Index.Dir != "" {
		indexDir, err = filepath.Abs(cfg.Index.Dir)
		if err != nil {
			return nil, fserrors.ConfigError("invalid index directory", err)
		}
	}

	f := filter.New(filter.Options{
		Root:       root,
		Extensions: cfg.Watch.Extensions,
		Exclude:    cfg.Watch.Exclude,
		IndexDir:   indexDir,
	})

	return &Pipeline{
		cfg:         cfg,
		root:        root,
		indexDir:    indexDir,
		filter:      f,
		progress:    async.NewProgress(),
		forwardDone: make(chan struct{}),
	}, nil
}

// Root returns the absolute watch root.
func (p *Pipeline) Root() string { return p.root }

// Index returns the text index. It is nil before Start or Load.
func (p *Pipeline) Index() store.TextIndex { return p.idx }

// Progress returns the startup progress tracker.
func (p *Pipeline) Progress() *async.Progress { return p.progress }

// SearchLimit returns the configured default result limit.
func (p *Pipeline) SearchLimit() int { return p.cfg.Index.SearchLimit }

// MaxFileSize returns the largest file the pipeline will materialize.
func (p *Pipeline) MaxFileSize() int64 { return p.cfg.Index.MaxFileSize }

// Start brings the pipeline up: open the index, attach the watcher, load
// and reconcile the existing tree, commit, then forward live events.
// Events that arrive during the load are held back by the debouncer and
// the watcher buffer, not lost. ctx bounds startup only; call Stop to shut
// down.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.open(); err != nil {
		p.progress.SetError(err.Error())
		return err
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.watcher = watcher.NewHybridWatcher(watcher.Options{
		Mode:            strings.ToLower(p.cfg.Watch.Mode),
		PollInterval:    p.cfg.PollInterval(),
		EventBufferSize: p.cfg.Watch.EventBufferSize,
		Overflow:        watcher.OverflowPolicy(strings.ToLower(p.cfg.Watch.OverflowPolicy)),
		SkipDir:         func(dir string) bool { return !p.filter.AdmitDir(dir) },
	})
	if err := p.watcher.Start(bgCtx, p.root); err != nil {
		p.progress.SetError(err.Error())
		p.abort()
		return err
	}

	p.debouncer = watcher.NewDebouncer(watcher.DebounceOptions{
		Idle:   p.cfg.DebounceIdle(),
		MaxAge: p.cfg.DebounceMaxAge(),
	})
	p.bg.Add(2)
	go func() {
		defer p.bg.Done()
		p.debouncer.Run(bgCtx, p.watcher.Events())
	}()
	go func() {
		defer p.bg.Done()
		p.logWatchErrors()
	}()

	p.queue.Start(bgCtx)

	if err := p.load(ctx); err != nil {
		p.progress.SetError(err.Error())
		close(p.forwardDone)
		_ = p.Stop(context.Background())
		return err
	}

	p.bg.Add(2)
	go func() {
		defer p.bg.Done()
		p.applier.Run(bgCtx)
	}()
	go func() {
		defer p.bg.Done()
		defer close(p.forwardDone)
		p.forward(bgCtx)
	}()

	p.progress.SetReady()
	slog.Info("pipeline ready",
		slog.String("root", p.root),
		slog.String("watcher", p.watcher.WatcherType()),
		slog.String("backend", p.cfg.Index.Backend))
	return nil
}

// Load opens the index and runs the initial load without watching. It is
// used for one-shot indexing; call Stop afterwards.
func (p *Pipeline) Load(ctx context.Context) error {
	if err := p.open(); err != nil {
		p.progress.SetError(err.Error())
		return err
	}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	close(p.forwardDone)

	p.queue.Start(bgCtx)
	if err := p.load(ctx); err != nil {
		p.progress.SetError(err.Error())
		return err
	}
	p.progress.SetReady()
	return nil
}

// Run starts the pipeline, blocks until ctx is done, and stops it.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return p.Stop(context.Background())
}

// open verifies the root, locks and opens the index, and builds the
// applier and queue.
func (p *Pipeline) open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return errors.New("pipeline already started")
	}

	info, err := os.Stat(p.root)
	if err != nil {
		return fserrors.WatchError(p.root, err)
	}
	if !info.IsDir() {
		return fserrors.WatchError(p.root, fmt.Errorf("not a directory"))
	}

	if p.indexDir != "" {
		lock, err := store.LockDir(p.indexDir)
		if err != nil {
			return err
		}
		p.lock = lock
	}

	idx, err := store.Open(store.Backend(strings.ToLower(p.cfg.Index.Backend)), p.indexDir)
	if err != nil {
		_ = p.lock.Unlock()
		return err
	}
	p.idx = idx

	applier, err := index.NewApplier(idx, index.Options{
		MaxFileSize:     p.cfg.Index.MaxFileSize,
		CommitBatchSize: p.cfg.Index.CommitBatchSize,
		CommitInterval:  p.cfg.CommitInterval(),
	})
	if err != nil {
		_ = idx.Close()
		_ = p.lock.Unlock()
		return err
	}
	p.applier = applier
	p.queue = queue.New(applier.Apply, queue.Options{
		Workers: p.cfg.Index.Workers,
		OnIdle:  applier.OnIdle,
	})

	p.opened = true
	return nil
}

// abort releases what open acquired when startup fails before any
// goroutine was started.
func (p *Pipeline) abort() {
	if p.cancel != nil {
		p.cancel()
	}
	_ = p.queue.Close()
	_ = p.idx.Close()
	_ = p.lock.Unlock()
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	close(p.forwardDone)
}

// load scans the tree, enqueues an upsert per admitted file, deletes
// indexed paths that no longer exist, waits for the queue, and commits.
func (p *Pipeline) load(ctx context.Context) error {
	start := time.Now()
	p.progress.SetStage(async.StageScanning)

	seen := make(map[string]struct{})
	for res := range scanner.New(p.filter).Scan(ctx) {
		if res.Err != nil {
			p.progress.ScanError()
			slog.Warn("scan entry failed",
				slog.String("path", res.Path),
				slog.String("error", res.Err.Error()))
			continue
		}
		seen[res.Path] = struct{}{}
		p.progress.FileFound()
		if _, err := p.queue.Enqueue(queue.Op{Path: res.Path, Kind: queue.KindUpsert}); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.indexDir != "" {
		p.progress.SetStage(async.StageReconciling)
		indexed, err := p.idx.Paths(ctx, "")
		if err != nil {
			return fmt.Errorf("list indexed paths: %w", err)
		}
		stale := scanner.Stale(indexed, seen)
		for _, path := range stale {
			if _, err := p.queue.Enqueue(queue.Op{Path: path, Kind: queue.KindDelete}); err != nil {
				return err
			}
		}
		p.progress.SetStale(len(stale))
		if len(stale) > 0 {
			slog.Info("removing paths deleted while offline", slog.Int("count", len(stale)))
		}
	}

	p.progress.SetStage(async.StageDraining)
	if err := p.queue.Drain(ctx); err != nil {
		return fmt.Errorf("drain initial load: %w", err)
	}
	if err := p.applier.Commit(ctx); err != nil {
		return err
	}
	p.progress.SetApplied(len(seen))

	count, _ := p.idx.Count(ctx)
	slog.Info("initial load complete",
		slog.Int("files", len(seen)),
		slog.Int("documents", count),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// forward turns debounced changes into queue operations until the
// debouncer output closes.
func (p *Pipeline) forward(ctx context.Context) {
	for c := range p.debouncer.Output() {
		for _, op := range p.operationsFor(ctx, c) {
			if _, err := p.queue.Enqueue(op); err != nil {
				slog.Warn("dropping change, queue closed",
					slog.String("path", op.Path),
					slog.String("kind", op.Kind.String()))
			}
		}
	}
}

// operationsFor maps one coalesced change to queue operations. A removed
// path expands to a delete for every indexed document beneath it, so
// removing or renaming a directory clears its subtree.
func (p *Pipeline) operationsFor(ctx context.Context, c watcher.Coalesced) []queue.Op {
	if p.filter.InIndexDir(c.Path) {
		return nil
	}

	if c.Action == watcher.ActionUpsert {
		if c.IsDir || !p.filter.Admit(c.Path) {
			return nil
		}
		return []queue.Op{{Path: c.Path, Kind: queue.KindUpsert}}
	}

	var ops []queue.Op
	seen := make(map[string]struct{})
	if p.filter.Admit(c.Path) {
		ops = append(ops, queue.Op{Path: c.Path, Kind: queue.KindDelete})
		seen[c.Path] = struct{}{}
	}
	indexed, err := p.idx.Paths(ctx, c.Path)
	if err != nil {
		slog.Warn("failed to expand removed path",
			slog.String("path", c.Path),
			slog.String("error", err.Error()))
		return ops
	}
	for _, path := range indexed {
		if _, dup := seen[path]; dup {
			continue
		}
		ops = append(ops, queue.Op{Path: path, Kind: queue.KindDelete})
	}
	return ops
}

func (p *Pipeline) logWatchErrors() {
	for err := range p.watcher.Errors() {
		slog.Warn("watcher error", slog.String("error", err.Error()))
	}
}

// Stop shuts down in order: stop the watcher, let the debouncer flush,
// enqueue what it flushed, drain the queue within the drain timeout,
// commit, close the index, and release the lock. ctx bounds the whole
// shutdown in addition to the drain timeout.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.opened || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.progress.SetStage(async.StageStopping)
	var errs []error

	if p.watcher != nil {
		if err := p.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout())
	defer cancel()

	select {
	case <-p.forwardDone:
	case <-drainCtx.Done():
		slog.Warn("timed out waiting for debounced changes")
	}

	if err := p.queue.Drain(drainCtx); err != nil {
		stats := p.queue.Stats()
		slog.Warn("drain timeout, abandoning pending operations",
			slog.Int("pending", stats.Pending),
			slog.Int("in_flight", stats.InFlight))
	}

	p.cancel()
	if err := p.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	p.bg.Wait()

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout())
	defer commitCancel()
	if err := p.applier.Commit(commitCtx); err != nil {
		errs = append(errs, fmt.Errorf("final commit: %w", err))
	}

	if err := p.idx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	if err := p.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}

	p.progress.SetStopped()
	slog.Info("pipeline stopped", slog.String("root", p.root))
	return errors.Join(errs...)
}
