package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// PollingWatcher detects changes by periodically walking the tree and
// diffing file size and modification time against the previous walk.
// Used where fsnotify is unavailable (network mounts, container volumes,
// exhausted inotify limits).
type PollingWatcher struct {
	root     string
	interval time.Duration
	skipDir  func(string) bool
	buf      *eventBuffer

	// files is owned by the goroutine calling snapshot/detectChanges.
	files map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPollingWatcher(root string, opts Options, buf *eventBuffer) *PollingWatcher {
	return &PollingWatcher{
		root:     root,
		interval: opts.PollInterval,
		skipDir:  opts.SkipDir,
		buf:      buf,
		files:    make(map[string]fileSnapshot),
	}
}

// snapshot records the baseline state. The root must be readable.
func (p *PollingWatcher) snapshot() error {
	if _, err := os.ReadDir(p.root); err != nil {
		return fmt.Errorf("read root: %w", err)
	}
	current, err := p.walk()
	if err != nil {
		return err
	}
	p.files = current
	return nil
}

func (p *PollingWatcher) run(ctx context.Context, stopCh <-chan struct{}, onError func(error)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				onError(err)
			}
		}
	}
}

func (p *PollingWatcher) walk() (map[string]fileSnapshot, error) {
	current := make(map[string]fileSnapshot, len(p.files))
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != p.root && p.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		current[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory for changes: %w", err)
	}
	return current, nil
}

// detectChanges walks the tree and emits events for every difference from
// the previous walk.
func (p *PollingWatcher) detectChanges() error {
	current, err := p.walk()
	if err != nil {
		return err
	}

	now := time.Now()
	for path, snap := range current {
		prev, existed := p.files[path]
		switch {
		case !existed:
			p.buf.emit(ChangeEvent{Path: path, Kind: KindCreated, Timestamp: now})
		case prev.modTime != snap.modTime || prev.size != snap.size:
			p.buf.emit(ChangeEvent{Path: path, Kind: KindModified, Timestamp: now})
		}
	}
	for path := range p.files {
		if _, ok := current[path]; !ok {
			p.buf.emit(ChangeEvent{Path: path, Kind: KindRemoved, Timestamp: now})
		}
	}

	p.files = current
	return nil
}
