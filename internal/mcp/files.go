package mcp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
	"github.com/Aman-CERP/fstext/internal/filter"
)

// textMIMETypes maps extensions to the MIME type reported by load_file.
var textMIMETypes = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".mdx":      "text/markdown",
	".rst":      "text/x-rst",
	".adoc":     "text/asciidoc",
	".org":      "text/x-org",
	".csv":      "text/csv",
	".tsv":      "text/tab-separated-values",
	".json":     "application/json",
	".yaml":     "text/x-yaml",
	".yml":      "text/x-yaml",
	".toml":     "text/x-toml",
	".xml":      "text/xml",
	".html":     "text/html",
	".htm":      "text/html",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".sh":       "text/x-sh",
}

// mimeTypeForPath guesses a MIME type from the file extension, defaulting
// to text/plain.
func mimeTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := textMIMETypes[ext]; ok {
		return mime
	}
	return "text/plain"
}

// readWithinRoot loads the file at name. Relative names resolve against
// root; the resolved path, symlinks followed, must stay inside root.
func readWithinRoot(ctx context.Context, root, name string, maxSize int64) (*LoadFileOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Clean(name)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fserrors.NotFoundError(name)
		}
		return nil, fserrors.ReadFailure(name, err)
	}

	if !filter.Within(root, resolved) {
		return nil, fserrors.New(fserrors.ErrCodeInvalidPath,
			fmt.Sprintf("file is outside the watch root: %s", name), nil)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fserrors.NotFoundError(name)
		}
		return nil, fserrors.ReadFailure(name, err)
	}
	if info.IsDir() {
		return nil, fserrors.New(fserrors.ErrCodeNotFound,
			fmt.Sprintf("path is a directory: %s", name), nil)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fserrors.New(fserrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), maxSize), nil)
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fserrors.NotFoundError(name)
		}
		return nil, fserrors.ReadFailure(name, err)
	}

	return &LoadFileOutput{
		Path:     resolved,
		Content:  string(content),
		Size:     int64(len(content)),
		MIMEType: mimeTypeForPath(resolved),
	}, nil
}
