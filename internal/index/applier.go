// Package index applies queued operations to the text index. It turns
// paths into documents, funnels every mutation through a single writer,
// and decides when staged mutations are committed.
package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
	"github.com/Aman-CERP/fstext/internal/queue"
	"github.com/Aman-CERP/fstext/internal/store"
)

// Defaults for Options.
const (
	DefaultCommitBatchSize = 10
	DefaultCommitInterval  = time.Second
	DefaultCacheSize       = 16384
)

// Options configures an Applier.
type Options struct {
	// MaxFileSize skips larger files. Zero uses DefaultMaxFileSize.
	MaxFileSize int64

	// CommitBatchSize commits once this many mutations are staged.
	CommitBatchSize int

	// CommitInterval bounds how long a staged mutation waits for a commit.
	CommitInterval time.Duration

	// CacheSize is the number of content fingerprints remembered.
	CacheSize int

	// Retry governs retries of failed index writes.
	Retry fserrors.RetryConfig
}

// Stats counts what the applier did.
type Stats struct {
	Upserts       uint64 `json:"upserts"`
	Deletes       uint64 `json:"deletes"`
	Unchanged     uint64 `json:"unchanged"`
	Skipped       uint64 `json:"skipped"`
	ReadFailures  uint64 `json:"read_failures"`
	WriteFailures uint64 `json:"write_failures"`
	Dropped       uint64 `json:"dropped"`
	Commits       uint64 `json:"commits"`
	LastError     string `json:"last_error,omitempty"`
}

// fingerprint is the last content hash staged for a path. A deleted
// fingerprint means the last staged op was a delete.
type fingerprint struct {
	hash    uint64
	deleted bool
}

// Applier is a queue.Handler that writes to a store.TextIndex.
type Applier struct {
	idx  store.TextIndex
	opts Options

	// writeMu serializes every mutation and commit on idx.
	writeMu sync.Mutex
	cache   *lru.Cache[string, fingerprint]

	statsMu sync.Mutex
	stats   Stats
}

// NewApplier creates an applier over idx.
func NewApplier(idx store.TextIndex, opts Options) (*Applier, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.CommitBatchSize <= 0 {
		opts.CommitBatchSize = DefaultCommitBatchSize
	}
	if opts.CommitInterval <= 0 {
		opts.CommitInterval = DefaultCommitInterval
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Retry == (fserrors.RetryConfig{}) {
		opts.Retry = fserrors.DefaultRetryConfig()
	}

	cache, err := lru.New[string, fingerprint](opts.CacheSize)
	if err != nil {
		return nil, fserrors.InternalError("failed to create fingerprint cache", err)
	}

	return &Applier{idx: idx, opts: opts, cache: cache}, nil
}

// Apply handles one queued operation. It satisfies queue.Handler.
func (a *Applier) Apply(ctx context.Context, op queue.Op) error {
	switch op.Kind {
	case queue.KindDelete:
		return a.remove(ctx, op.Path)
	default:
		return a.upsert(ctx, op.Path)
	}
}

func (a *Applier) upsert(ctx context.Context, path string) error {
	fc, err := readText(path, a.opts.MaxFileSize)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		// Gone before we got to it; the index must not keep it either.
		slog.Debug("file vanished before upsert, deleting", slog.String("path", path))
		return a.remove(ctx, path)
	case errors.Is(err, errSkip):
		a.count(func(s *Stats) { s.Skipped++ })
		return a.remove(ctx, path)
	default:
		// The committed document, if any, stays as it was.
		a.count(func(s *Stats) {
			s.ReadFailures++
			s.LastError = err.Error()
		})
		slog.Warn("failed to read file", fserrors.LogAttrs(err)...)
		return err
	}

	doc := store.Document{
		Path:    path,
		Content: fc.Content,
		Size:    fc.Size,
		ModTime: fc.ModTime,
		Hash:    xxhash.Sum64String(fc.Content),
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.unchanged(ctx, doc) {
		a.count(func(s *Stats) { s.Unchanged++ })
		return nil
	}

	if err := a.write(ctx, func() error { return a.idx.Upsert(ctx, doc) }); err != nil {
		return err
	}
	a.cache.Add(path, fingerprint{hash: doc.Hash})
	a.count(func(s *Stats) { s.Upserts++ })

	return a.commitIfFull(ctx)
}

func (a *Applier) remove(ctx context.Context, path string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.write(ctx, func() error { return a.idx.Delete(ctx, path) }); err != nil {
		return err
	}
	a.cache.Add(path, fingerprint{deleted: true})
	a.count(func(s *Stats) { s.Deletes++ })

	return a.commitIfFull(ctx)
}

// unchanged reports whether doc matches the last staged or committed
// content for its path. Callers hold writeMu.
func (a *Applier) unchanged(ctx context.Context, doc store.Document) bool {
	if fp, ok := a.cache.Get(doc.Path); ok {
		return !fp.deleted && fp.hash == doc.Hash
	}
	existing, found, err := a.idx.Get(ctx, doc.Path)
	if err != nil || !found {
		return false
	}
	if existing.Hash == doc.Hash {
		a.cache.Add(doc.Path, fingerprint{hash: doc.Hash})
		return true
	}
	return false
}

// write runs fn with the configured retry policy. Callers hold writeMu.
func (a *Applier) write(ctx context.Context, fn func() error) error {
	err := fserrors.Retry(ctx, a.opts.Retry, fn)
	if err != nil {
		a.count(func(s *Stats) {
			s.WriteFailures++
			s.LastError = err.Error()
		})
		slog.Error("index write failed", fserrors.LogAttrs(err)...)
	}
	return err
}

func (a *Applier) commitIfFull(ctx context.Context) error {
	if a.idx.Pending() < a.opts.CommitBatchSize {
		return nil
	}
	return a.commitLocked(ctx, "batch")
}

// Commit publishes everything staged so far.
func (a *Applier) Commit(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.commitLocked(ctx, "explicit")
}

func (a *Applier) commitLocked(ctx context.Context, trigger string) error {
	pending := a.idx.Pending()
	if pending == 0 {
		return nil
	}

	if err := a.write(ctx, func() error { return a.idx.Commit(ctx) }); err != nil {
		if ctx.Err() == nil {
			a.drop(trigger)
		}
		return err
	}

	a.count(func(s *Stats) { s.Commits++ })
	slog.Debug("index committed",
		slog.String("trigger", trigger),
		slog.Int("mutations", pending))
	return nil
}

// drop discards a batch whose commit failed after its retry, so one bad
// mutation cannot hold back every later one. Callers hold writeMu.
func (a *Applier) drop(trigger string) {
	dropped := a.idx.Discard()
	for _, p := range dropped {
		a.cache.Remove(p)
	}
	a.count(func(s *Stats) { s.Dropped += uint64(len(dropped)) })
	slog.Error("dropped uncommitted mutations",
		slog.String("trigger", trigger),
		slog.Int("mutations", len(dropped)),
		slog.Any("paths", dropped))
}

// OnIdle commits when the queue empties. It has the signature of
// queue.Options.OnIdle.
func (a *Applier) OnIdle() {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.commitLocked(context.Background(), "idle")
}

// Run commits on a timer until ctx is done, so a staged mutation never
// waits longer than the commit interval.
func (a *Applier) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.writeMu.Lock()
			_ = a.commitLocked(ctx, "interval")
			a.writeMu.Unlock()
		}
	}
}

// Stats returns a snapshot of the counters.
func (a *Applier) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

func (a *Applier) count(fn func(*Stats)) {
	a.statsMu.Lock()
	fn(&a.stats)
	a.statsMu.Unlock()
}
