// Package scanner walks the watch root once at startup and streams every
// admitted file, so the index can be populated before live events flow.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/Aman-CERP/fstext/internal/filter"
)

// resultBuffer is the capacity of the Scan channel.
const resultBuffer = 64

// Result is one admitted file or one per-entry failure.
type Result struct {
	Path    string
	Size    int64
	ModTime time.Time
	Err     error
}

// Scanner enumerates admitted files beneath the filter's root.
type Scanner struct {
	filter *filter.Filter
}

// New creates a Scanner that admits what f admits.
func New(f *filter.Filter) *Scanner {
	return &Scanner{filter: f}
}

// Scan walks the root in lexical order and streams results until the walk
// finishes or ctx is done; the channel is then closed. Entries that cannot
// be read are reported with Err set and skipped. Symlinks are not followed.
func (s *Scanner) Scan(ctx context.Context) <-chan Result {
	results := make(chan Result, resultBuffer)
	root := s.filter.Root()

	go func() {
		defer close(results)

		send := func(r Result) bool {
			select {
			case results <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if err != nil {
				if path == root {
					return err
				}
				slog.Debug("skipping unreadable entry",
					slog.String("path", path),
					slog.String("error", err.Error()))
				if !send(Result{Path: path, Err: err}) {
					return ctx.Err()
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if !s.filter.AdmitDir(path) {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
				return nil
			}
			if !s.filter.Admit(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				// Vanished between readdir and stat.
				if !errors.Is(err, fs.ErrNotExist) {
					if !send(Result{Path: path, Err: err}) {
						return ctx.Err()
					}
				}
				return nil
			}

			if !send(Result{Path: path, Size: info.Size(), ModTime: info.ModTime()}) {
				return ctx.Err()
			}
			return nil
		})

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			send(Result{Path: root, Err: fmt.Errorf("walk %s: %w", root, err)})
		}
	}()

	return results
}

// Stale returns the indexed paths that are absent from seen, sorted.
// They belong to files removed while nothing was watching.
func Stale(indexed []string, seen map[string]struct{}) []string {
	var stale []string
	for _, p := range indexed {
		if _, ok := seen[p]; !ok {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	return stale
}
