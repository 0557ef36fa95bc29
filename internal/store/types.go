// Package store provides the text index engine: a capability interface with
// staged mutations and atomic commit, and two backends implementing it
// (bleve and SQLite FTS5).
package store

import (
	"context"
	"time"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// Document is one indexed file. Path is the canonical absolute path and the
// unique document id.
type Document struct {
	Path    string
	Content string
	Size    int64
	ModTime time.Time
	// Hash is the xxhash64 of Content.
	Hash uint64
}

// Hit is a search result.
type Hit struct {
	Path    string  `json:"path"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// DefaultSearchLimit caps results when the caller passes a non-positive limit.
const DefaultSearchLimit = 10

// ErrIndexClosed is returned by every operation after Close.
// It matches fserrors.ErrIndexUnavailable under errors.Is.
var ErrIndexClosed = fserrors.IndexUnavailableError("index is closed", nil)

// TextIndex is the capability set every backend provides.
//
// Upsert and Delete stage mutations; nothing is visible to Search, Get,
// Paths, or Count until Commit publishes all staged mutations as one
// indivisible transition. Readers always observe the last committed state.
type TextIndex interface {
	// Upsert stages an insert-or-replace of doc keyed by doc.Path.
	Upsert(ctx context.Context, doc Document) error

	// Delete stages removal of path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// Commit atomically publishes all staged mutations. With nothing
	// staged it does nothing.
	Commit(ctx context.Context) error

	// Search returns up to limit hits for keyword ordered by score
	// descending, then path ascending. Keywords that cannot match yield an
	// empty result, never an error.
	Search(ctx context.Context, keyword string, limit int) ([]Hit, error)

	// Get returns the committed document for path.
	Get(ctx context.Context, path string) (Document, bool, error)

	// Paths lists committed document ids under prefix (all when empty),
	// merged with staged mutations, sorted.
	Paths(ctx context.Context, prefix string) ([]string, error)

	// Count returns the number of committed documents.
	Count(ctx context.Context) (int, error)

	// Pending returns the number of staged mutations.
	Pending() int

	// Staged reports whether a mutation for path awaits Commit, and
	// whether that mutation is a delete.
	Staged(path string) (deleted, ok bool)

	// Discard drops every staged mutation and returns the affected paths,
	// sorted.
	Discard() []string

	Close() error
}
