package index

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// DefaultMaxFileSize is the largest file indexed when no cap is configured.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

const (
	readAttempts = 3
	readBackoff  = 10 * time.Millisecond
)

// errSkip marks paths that are not regular files or exceed the size cap.
var errSkip = errors.New("not indexable")

// fileContent is a file read from disk.
type fileContent struct {
	Content string
	Size    int64
	ModTime time.Time
}

// readText reads path as UTF-8 text.
//
// It returns an fs.ErrNotExist error when the file is gone, errSkip for
// symlinks, directories, and oversized files, an ErrCodeNotText error for
// binary or non-UTF-8 content, and a ReadFailure for anything else once the
// retries are spent.
func readText(path string, maxSize int64) (fileContent, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileContent{}, err
		}
		return fileContent{}, fserrors.ReadFailure(path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		slog.Debug("skipping symlink", slog.String("path", path))
		return fileContent{}, errSkip
	}
	if !info.Mode().IsRegular() {
		return fileContent{}, errSkip
	}
	if info.Size() > maxSize {
		slog.Warn("skipping oversized file",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("max", maxSize))
		return fileContent{}, errSkip
	}

	data, err := readWithRetry(path)
	if err != nil {
		return fileContent{}, err
	}

	if isBinaryContent(data) {
		return fileContent{}, fserrors.New(fserrors.ErrCodeNotText,
			fmt.Sprintf("binary content in %s", path), nil).WithDetail("path", path)
	}
	if !utf8.Valid(data) {
		return fileContent{}, fserrors.New(fserrors.ErrCodeNotText,
			fmt.Sprintf("invalid UTF-8 in %s", path), nil).WithDetail("path", path)
	}

	return fileContent{
		Content: string(data),
		Size:    int64(len(data)),
		ModTime: info.ModTime(),
	}, nil
}

// readWithRetry retries transient read failures, such as a writer still
// holding the file, with a short linear backoff.
func readWithRetry(path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < readAttempts; attempt++ {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		lastErr = err
		if attempt < readAttempts-1 {
			time.Sleep(readBackoff * time.Duration(attempt+1))
		}
	}
	return nil, fserrors.ReadFailure(path, fmt.Errorf("after %d attempts: %w", readAttempts, lastErr))
}

// isBinaryContent reports a NUL byte in the first 512 bytes.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
