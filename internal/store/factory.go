package store

import (
	"path/filepath"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// Backend names a TextIndex implementation.
type Backend string

const (
	// BackendBleve stores the index as a bleve directory under <dir>/bleve.
	BackendBleve Backend = "bleve"

	// BackendSQLite stores the index in <dir>/index.db using FTS5.
	BackendSQLite Backend = "sqlite"
)

// Open opens the backend's index inside dir. An empty dir opens an
// in-memory index.
func Open(backend Backend, dir string) (TextIndex, error) {
	switch backend {
	case BackendBleve, "":
		idx, err := NewBleveIndex(IndexPath(BackendBleve, dir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendSQLite:
		idx, err := NewSQLiteIndex(IndexPath(BackendSQLite, dir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fserrors.ValidationError("unknown index backend: "+string(backend), nil).
			WithSuggestion("Valid backends are bleve and sqlite")
	}
}

// IndexPath returns where backend keeps its data inside dir, or "" for an
// in-memory index.
func IndexPath(backend Backend, dir string) string {
	if dir == "" {
		return ""
	}
	if backend == BackendSQLite {
		return filepath.Join(dir, "index.db")
	}
	return filepath.Join(dir, "bleve")
}
