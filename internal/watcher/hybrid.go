package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// HybridWatcher implements Watcher with fsnotify as the primary mechanism
// and polling as a fallback.
type HybridWatcher struct {
	opts Options

	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher

	// dirs is the set of watched directories. Owned by the event loop once started.
	dirs map[string]struct{}

	buf    *eventBuffer
	errors chan error
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	rootPath string
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a watcher. Nothing is attached until Start.
func NewHybridWatcher(opts Options) *HybridWatcher {
	opts = opts.WithDefaults()
	stopCh := make(chan struct{})
	return &HybridWatcher{
		opts:   opts,
		dirs:   make(map[string]struct{}),
		buf:    newEventBuffer(opts.EventBufferSize, opts.Overflow, stopCh),
		errors: make(chan error, 10),
		stopCh: stopCh,
	}
}

// Start attaches to root and runs the event loop in the background.
// Failure to attach the root returns a fatal WatchError.
func (h *HybridWatcher) Start(ctx context.Context, root string) error {
	if err := h.opts.Validate(); err != nil {
		return fserrors.ConfigError("invalid watcher options", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fserrors.WatchError(root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fserrors.WatchError(absRoot, err)
	}
	if !info.IsDir() {
		return fserrors.WatchError(absRoot, fmt.Errorf("not a directory"))
	}

	h.mu.Lock()
	if h.stopped || h.started {
		h.mu.Unlock()
		return fmt.Errorf("watcher already started or stopped")
	}
	h.started = true
	h.rootPath = absRoot
	// Released by the producer goroutine, or below if attaching fails.
	h.wg.Add(1)
	h.mu.Unlock()

	if h.opts.Mode != ModePoll {
		err := h.attachFsnotify(absRoot)
		if err == nil {
			// The event loop owns h.dirs once it starts.
			dirs := len(h.dirs)
			go h.runFsnotify(ctx)
			go h.stopOnCancel(ctx)
			slog.Info("watcher started",
				slog.String("root", absRoot),
				slog.String("type", "fsnotify"),
				slog.Int("directories", dirs))
			return nil
		}
		if h.opts.Mode == ModeFSNotify {
			h.wg.Done()
			return fserrors.WatchError(absRoot, err)
		}
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("root", absRoot),
			slog.String("error", err.Error()))
	}

	h.poller = newPollingWatcher(absRoot, h.opts, h.buf)
	if err := h.poller.snapshot(); err != nil {
		h.wg.Done()
		return fserrors.WatchError(absRoot, err)
	}
	go func() {
		defer h.wg.Done()
		h.poller.run(ctx, h.stopCh, h.emitError)
	}()
	go h.stopOnCancel(ctx)
	slog.Info("watcher started",
		slog.String("root", absRoot),
		slog.String("type", "polling"),
		slog.Duration("interval", h.opts.PollInterval))
	return nil
}

func (h *HybridWatcher) attachFsnotify(root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch root: %w", err)
	}
	h.fsWatcher = fsw
	h.dirs[root] = struct{}{}
	h.addRecursive(root, false)
	return nil
}

func (h *HybridWatcher) stopOnCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = h.Stop()
	case <-h.stopCh:
	}
}

func (h *HybridWatcher) runFsnotify(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return
			}
			h.emitError(err)
		}
	}
}

// handleFsnotifyEvent converts an fsnotify event into zero or more ChangeEvents.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	now := time.Now()

	switch {
	case event.Op&fsnotify.Create != 0:
		info, err := os.Lstat(path)
		if err != nil {
			// Already gone; a Remove follows.
			return
		}
		if info.IsDir() {
			if h.opts.SkipDir(path) {
				return
			}
			// Files may land before the watch attaches, so synthesize
			// creates for whatever is already inside.
			h.addRecursive(path, true)
			return
		}
		h.buf.emit(ChangeEvent{Path: path, Kind: KindCreated, Timestamp: now})

	case event.Op&fsnotify.Write != 0:
		if _, isDir := h.dirs[path]; isDir {
			return
		}
		h.buf.emit(ChangeEvent{Path: path, Kind: KindModified, Timestamp: now})

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		_, isDir := h.dirs[path]
		if isDir {
			h.forgetDir(path)
		}
		h.buf.emit(ChangeEvent{Path: path, Kind: KindRemoved, IsDir: isDir, Timestamp: now})

	default:
		// Chmod carries no content change.
	}
}

// addRecursive watches dir and every admitted directory below it. When
// synthesize is set, a KindCreated event is emitted for each file found.
func (h *HybridWatcher) addRecursive(dir string, synthesize bool) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("skipping unreadable path while watching",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if synthesize && d.Type().IsRegular() {
				h.buf.emit(ChangeEvent{Path: path, Kind: KindCreated, Timestamp: time.Now()})
			}
			return nil
		}

		if path != h.rootPath && h.opts.SkipDir(path) {
			return filepath.SkipDir
		}
		if _, ok := h.dirs[path]; ok && path != dir {
			return nil
		}
		if err := h.fsWatcher.Add(path); err != nil {
			h.emitError(fmt.Errorf("watch %s: %w", path, err))
			return filepath.SkipDir
		}
		h.dirs[path] = struct{}{}
		return nil
	})
}

// forgetDir drops dir and its descendants from the watch set.
func (h *HybridWatcher) forgetDir(dir string) {
	prefix := dir + string(filepath.Separator)
	for p := range h.dirs {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(h.dirs, p)
			// Renamed directories keep their inotify watch; removed ones
			// are already gone and return ErrNonExistentWatch.
			if err := h.fsWatcher.Remove(p); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
				slog.Debug("failed to remove watch", slog.String("path", p), slog.String("error", err.Error()))
			}
		}
	}
}

// emitError sends a non-fatal error without blocking.
func (h *HybridWatcher) emitError(err error) {
	slog.Warn("watcher error", slog.String("error", err.Error()))
	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher, waits for the producer to exit, and closes the
// Events and Errors channels.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.mu.Unlock()

	var err error
	if h.fsWatcher != nil {
		err = h.fsWatcher.Close()
	}
	h.wg.Wait()

	h.buf.close()
	close(h.errors)
	return err
}

// Events returns the bounded channel of change events.
func (h *HybridWatcher) Events() <-chan ChangeEvent {
	return h.buf.ch
}

// Errors returns the channel of non-fatal errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// Dropped returns the number of events discarded under OverflowDropOldest.
func (h *HybridWatcher) Dropped() uint64 {
	return h.buf.dropped.Load()
}

// WatcherType returns "fsnotify", "polling", or "" before Start.
func (h *HybridWatcher) WatcherType() string {
	switch {
	case h.fsWatcher != nil:
		return "fsnotify"
	case h.poller != nil:
		return "polling"
	default:
		return ""
	}
}

// RootPath returns the absolute root being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rootPath
}
