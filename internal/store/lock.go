package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

const lockFileName = ".fstext.lock"

// DirLock is an exclusive cross-process lock on an index directory.
type DirLock struct {
	flock *flock.Flock
}

// LockDir creates dir if needed and takes an exclusive, non-blocking lock on it.
// An unwritable directory is reported as IndexUnavailable; a lock held by
// another process as IndexLocked.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fserrors.IndexUnavailableError("cannot create index directory", err).
			WithDetail("index_dir", dir)
	}

	lockPath := filepath.Join(dir, lockFileName)
	fl := flock.New(lockPath)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fserrors.IndexUnavailableError("cannot lock index directory", err).
			WithDetail("index_dir", dir)
	}
	if !acquired {
		return nil, fserrors.New(fserrors.ErrCodeIndexLocked,
			fmt.Sprintf("index directory %s is in use by another process", dir), nil).
			WithSuggestion("stop the other fstext instance or choose a different --index-dir")
	}
	return &DirLock{flock: fl}, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *DirLock) Unlock() error {
	if l == nil || !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release index lock: %w", err)
	}
	return nil
}
