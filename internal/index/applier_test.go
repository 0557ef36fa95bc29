package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
	"github.com/Aman-CERP/fstext/internal/queue"
	"github.com/Aman-CERP/fstext/internal/store"
)

func newTestApplier(t *testing.T, opts Options) (*Applier, store.TextIndex) {
	t.Helper()
	idx, err := store.Open(store.BackendBleve, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	if opts.CommitBatchSize == 0 {
		opts.CommitBatchSize = 100
	}
	if opts.CommitInterval == 0 {
		opts.CommitInterval = time.Hour
	}
	a, err := NewApplier(idx, opts)
	require.NoError(t, err)
	return a, idx
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func upsert(path string) queue.Op { return queue.Op{Path: path, Kind: queue.KindUpsert} }
func del(path string) queue.Op    { return queue.Op{Path: path, Kind: queue.KindDelete} }

func TestApplier_UpsertIndexesFileContent(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "hello")

	// When: the file is upserted and committed
	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	// Then: the document holds the file content and metadata
	doc, ok, err := idx.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, int64(5), doc.Size)
	assert.NotZero(t, doc.Hash)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Upserts)
	assert.Equal(t, uint64(1), stats.Commits)
}

func TestApplier_IdenticalUpsertIsSkipped(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "same")

	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	// When: the same content is upserted again
	require.NoError(t, a.Apply(ctx, upsert(path)))

	// Then: nothing new is staged and there is still one document
	assert.Zero(t, idx.Pending())
	assert.Equal(t, uint64(1), a.Stats().Unchanged)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplier_UpsertAfterDeleteIsNotSkipped(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "back again")

	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	// Given: a staged delete followed by an upsert of unchanged content
	require.NoError(t, a.Apply(ctx, del(path)))
	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	// Then: the document survives
	_, ok, err := idx.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplier_UnchangedAcrossRestartUsesCommittedHash(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "persisted")

	idx, err := store.Open(store.BackendSQLite, "")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	first, err := NewApplier(idx, Options{})
	require.NoError(t, err)
	require.NoError(t, first.Apply(ctx, upsert(path)))
	require.NoError(t, first.Commit(ctx))

	// When: a fresh applier with an empty cache sees the same content
	second, err := NewApplier(idx, Options{})
	require.NoError(t, err)
	require.NoError(t, second.Apply(ctx, upsert(path)))

	// Then: the committed hash short-circuits the write
	assert.Equal(t, uint64(1), second.Stats().Unchanged)
	assert.Zero(t, idx.Pending())
}

func TestApplier_VanishedFileIsDeleted(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "short lived")

	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	// When: the file disappears before its upsert is applied
	require.NoError(t, os.Remove(path))
	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	// Then: the document is gone
	_, ok, err := idx.Get(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplier_SkipsOversizedFilesAndSymlinks(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{MaxFileSize: 16})
	dir := t.TempDir()

	big := filepath.Join(dir, "big.txt")
	writeFile(t, big, "this content is longer than sixteen bytes")

	target := filepath.Join(dir, "target.txt")
	writeFile(t, target, "real")
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	for _, p := range []string{big, link} {
		require.NoError(t, a.Apply(ctx, upsert(p)))
	}
	require.NoError(t, a.Commit(ctx))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(2), a.Stats().Skipped)
}

func TestApplier_NonTextContentFailsWithoutTouchingIndex(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid utf-8", "hello caf\xe9"},
		{"nul byte", "hello\x00world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			a, idx := newTestApplier(t, Options{})
			path := filepath.Join(t.TempDir(), "a.txt")

			// Given: an indexed text file
			writeFile(t, path, "hello world")
			require.NoError(t, a.Apply(ctx, upsert(path)))
			require.NoError(t, a.Commit(ctx))

			// When: it is rewritten with content that is not UTF-8 text
			writeFile(t, path, tt.content)
			err := a.Apply(ctx, upsert(path))
			require.NoError(t, a.Commit(ctx))

			// Then: the operation fails and the old document is kept
			require.Error(t, err)
			assert.ErrorIs(t, err, fserrors.ErrNotText)

			got, ok, err := idx.Get(ctx, path)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "hello world", got.Content)

			stats := a.Stats()
			assert.Equal(t, uint64(1), stats.ReadFailures)
			assert.Zero(t, stats.Skipped)
			assert.Zero(t, stats.Deletes)
		})
	}
}

func TestApplier_UnreadableFileKeepsStaleDocument(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{})
	path := filepath.Join(t.TempDir(), "a.txt")

	// Given: an indexed file that then loses read permission
	writeFile(t, path, "hello world")
	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	writeFile(t, path, "goodbye")
	require.NoError(t, os.Chmod(path, 0))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	// When: its upsert is applied
	err := a.Apply(ctx, upsert(path))
	require.NoError(t, a.Commit(ctx))

	// Then: a read failure is reported and the stale document survives
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrReadFailure)

	got, ok, err := idx.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, uint64(1), a.Stats().ReadFailures)
}

func TestApplier_FileGrowingPastCapIsRemoved(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{MaxFileSize: 16})
	path := filepath.Join(t.TempDir(), "a.txt")

	writeFile(t, path, "small")
	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	writeFile(t, path, "now far too large for the cap")
	require.NoError(t, a.Apply(ctx, upsert(path)))
	require.NoError(t, a.Commit(ctx))

	_, ok, err := idx.Get(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplier_CommitsWhenBatchIsFull(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{CommitBatchSize: 2})
	dir := t.TempDir()

	for _, name := range []string{"a.txt", "b.txt"} {
		p := filepath.Join(dir, name)
		writeFile(t, p, "batched "+name)
		require.NoError(t, a.Apply(ctx, upsert(p)))
	}

	// Then: the second mutation triggered a commit
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, idx.Pending())
}

func TestApplier_RunCommitsOnInterval(t *testing.T) {
	a, idx := newTestApplier(t, Options{CommitInterval: 10 * time.Millisecond})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "eventually")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, a.Apply(context.Background(), upsert(path)))

	assert.Eventually(t, func() bool {
		n, err := idx.Count(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplier_OnIdleCommits(t *testing.T) {
	ctx := context.Background()
	a, idx := newTestApplier(t, Options{})
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "idle")

	require.NoError(t, a.Apply(ctx, upsert(path)))
	a.OnIdle()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// flakyIndex fails the first Commit with a retryable write error.
type flakyIndex struct {
	store.TextIndex
	failures atomic.Int32
}

func (f *flakyIndex) Commit(ctx context.Context) error {
	if f.failures.Add(-1) >= 0 {
		return fserrors.IndexWriteError("commit", "", errors.New("disk hiccup"))
	}
	return f.TextIndex.Commit(ctx)
}

func TestApplier_RetriesFailedCommitOnce(t *testing.T) {
	ctx := context.Background()
	inner, err := store.Open(store.BackendBleve, "")
	require.NoError(t, err)
	defer func() { _ = inner.Close() }()

	flaky := &flakyIndex{TextIndex: inner}
	flaky.failures.Store(1)

	a, err := NewApplier(flaky, Options{Retry: fserrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
	}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "retried")
	require.NoError(t, a.Apply(ctx, upsert(path)))

	// When: the first commit attempt fails
	require.NoError(t, a.Commit(ctx))

	// Then: the retry published the document
	n, err := inner.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, a.Stats().WriteFailures)
}

func TestApplier_PersistentCommitFailureDropsBatch(t *testing.T) {
	ctx := context.Background()
	inner, err := store.Open(store.BackendBleve, "")
	require.NoError(t, err)
	defer func() { _ = inner.Close() }()

	flaky := &flakyIndex{TextIndex: inner}
	flaky.failures.Store(2)

	a, err := NewApplier(flaky, Options{Retry: fserrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
	}})
	require.NoError(t, err)

	dir := t.TempDir()
	first := filepath.Join(dir, "a.txt")
	writeFile(t, first, "lost")
	require.NoError(t, a.Apply(ctx, upsert(first)))

	// When: the commit and its retry both fail
	err = a.Commit(ctx)

	// Then: the failure is reported and the batch is dropped
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrIndexWrite)
	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.WriteFailures)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Zero(t, inner.Pending())

	// And: later mutations still become visible
	second := filepath.Join(dir, "b.txt")
	writeFile(t, second, "kept")
	require.NoError(t, a.Apply(ctx, upsert(second)))
	require.NoError(t, a.Commit(ctx))

	got, err := inner.Paths(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{second}, got)

	// And: the dropped path is not mistaken for unchanged content
	require.NoError(t, a.Apply(ctx, upsert(first)))
	assert.Equal(t, 1, inner.Pending())
	assert.Zero(t, a.Stats().Unchanged)
}
