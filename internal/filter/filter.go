// Package filter decides which paths under the watch root are eligible for indexing.
package filter

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// alwaysSkipDirs are directory names never descended into.
var alwaysSkipDirs = map[string]bool{
	".git": true,
}

// Options configures a Filter.
type Options struct {
	// Root is the absolute watch root. Exclude globs are matched against
	// slash-separated paths relative to it.
	Root string

	// Extensions is the allow-list, with or without leading dots. Case-insensitive.
	Extensions []string

	// Exclude holds doublestar patterns (e.g. "drafts/**", "**/*.tmp.md").
	Exclude []string

	// IndexDir is the index storage location; everything under it is rejected.
	IndexDir string
}

// Filter admits or rejects paths. It is immutable after construction and safe
// for concurrent use.
type Filter struct {
	root       string
	indexDir   string
	extensions map[string]struct{}
	exclude    []string
}

// New builds a Filter. Invalid exclude patterns are dropped with a warning.
func New(opts Options) *Filter {
	f := &Filter{
		root:       filepath.Clean(opts.Root),
		extensions: make(map[string]struct{}, len(opts.Extensions)),
	}
	if opts.IndexDir != "" {
		f.indexDir = filepath.Clean(opts.IndexDir)
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			f.extensions[ext] = struct{}{}
		}
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			slog.Warn("ignoring invalid exclude pattern", slog.String("pattern", p))
			continue
		}
		f.exclude = append(f.exclude, p)
	}
	return f
}

// Admit reports whether a file path should produce index operations.
// Rejection is silent: the caller simply drops the event.
func (f *Filter) Admit(path string) bool {
	if !f.allowedExtension(path) {
		return false
	}
	return f.admitLocation(path, false)
}

// AdmitDir reports whether a directory should be walked and watched.
func (f *Filter) AdmitDir(path string) bool {
	if filepath.Clean(path) == f.root {
		return true
	}
	return f.admitLocation(path, true)
}

// Root returns the cleaned watch root.
func (f *Filter) Root() string {
	return f.root
}

// InIndexDir reports whether path lies inside the index storage directory.
func (f *Filter) InIndexDir(path string) bool {
	return f.indexDir != "" && Within(f.indexDir, path)
}

// Extensions returns the normalized allow-list.
func (f *Filter) Extensions() []string {
	out := make([]string, 0, len(f.extensions))
	for ext := range f.extensions {
		out = append(out, ext)
	}
	return out
}

func (f *Filter) allowedExtension(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	_, ok := f.extensions[strings.ToLower(ext[1:])]
	return ok
}

func (f *Filter) admitLocation(path string, isDir bool) bool {
	path = filepath.Clean(path)
	if f.InIndexDir(path) {
		return false
	}

	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, seg := range strings.Split(rel, "/") {
		if alwaysSkipDirs[seg] {
			return false
		}
	}

	for _, pattern := range f.exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return false
		}
		// "dir/**" should prune the directory itself, not only its children.
		if isDir {
			if matched, _ := doublestar.Match(pattern, rel+"/"); matched {
				return false
			}
		}
	}
	return true
}

// Within reports whether path equals dir or lies beneath it.
func Within(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if path == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
