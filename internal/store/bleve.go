package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// Field names in the bleve document mapping.
const (
	fieldPath    = "path"
	fieldContent = "content"
	fieldSize    = "size"
	fieldModTime = "mod_time"
	fieldHash    = "hash"
)

// snippetFallbackLen bounds the snippet when the highlighter yields no fragment.
const snippetFallbackLen = 160

// BleveIndex implements TextIndex on bleve. Staged mutations are applied in
// a single bleve batch on Commit while the write lock is held, so readers
// holding the read lock only ever see complete commits.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool

	staged *staging
}

var _ TextIndex = (*BleveIndex)(nil)

// bleveDocument is the stored form of a Document.
type bleveDocument struct {
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Size    float64 `json:"size"`
	ModTime string  `json:"mod_time"`
	Hash    string  `json:"hash"`
}

// NewBleveIndex opens the index at path, creating it if needed.
// An empty path creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping := newIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = openOrCreateBleve(path, indexMapping)
	}
	if err != nil {
		return nil, fserrors.IndexUnavailableError("failed to open bleve index", err)
	}

	return &BleveIndex{
		index:  idx,
		path:   path,
		staged: newStaging(),
	}, nil
}

func openOrCreateBleve(path string, indexMapping mapping.IndexMapping) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if validErr := validateBleveIntegrity(path); validErr != nil {
		slog.Warn("bleve index corrupted, clearing",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("index corrupted and cannot be removed: %w", err)
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case err == nil:
		return idx, nil
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		return bleve.New(path, indexMapping)
	case errors.Is(err, bleve.ErrorIndexMetaCorrupt):
		slog.Warn("bleve index metadata corrupt, rebuilding", slog.String("path", path))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("index corrupted and cannot be removed: %w", rmErr)
		}
		return bleve.New(path, indexMapping)
	default:
		return nil, err
	}
}

// validateBleveIntegrity checks index_meta.json of an existing index.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func newIndexMapping() *mapping.IndexMappingImpl {
	pathField := bleve.NewKeywordFieldMapping()
	pathField.Store = true

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.IncludeTermVectors = true

	sizeField := bleve.NewNumericFieldMapping()
	sizeField.Index = false

	modField := bleve.NewTextFieldMapping()
	modField.Analyzer = keyword.Name
	modField.Index = false

	hashField := bleve.NewTextFieldMapping()
	hashField.Analyzer = keyword.Name
	hashField.Index = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldPath, pathField)
	doc.AddFieldMappingsAt(fieldContent, contentField)
	doc.AddFieldMappingsAt(fieldSize, sizeField)
	doc.AddFieldMappingsAt(fieldModTime, modField)
	doc.AddFieldMappingsAt(fieldHash, hashField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

func (b *BleveIndex) checkOpen() error {
	if b.closed {
		return ErrIndexClosed
	}
	return nil
}

// Upsert stages doc.
func (b *BleveIndex) Upsert(_ context.Context, doc Document) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.staged.upsert(doc)
	return nil
}

// Delete stages removal of path.
func (b *BleveIndex) Delete(_ context.Context, path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.staged.delete(path)
	return nil
}

// Pending returns the number of staged mutations.
func (b *BleveIndex) Pending() int {
	return b.staged.len()
}

// Staged reports the uncommitted mutation for path, if any.
func (b *BleveIndex) Staged(path string) (deleted, ok bool) {
	op, ok := b.staged.lookup(path)
	return ok && op.doc == nil, ok
}

// Discard drops all staged mutations without applying them.
func (b *BleveIndex) Discard() []string {
	paths, _ := b.staged.take()
	return paths
}

// Commit applies all staged mutations in one bleve batch.
func (b *BleveIndex) Commit(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}

	paths, ops := b.staged.take()
	if len(paths) == 0 {
		return nil
	}

	batch := b.index.NewBatch()
	for _, p := range paths {
		op := ops[p]
		if op.doc == nil {
			batch.Delete(p)
			continue
		}
		if err := batch.Index(p, toBleveDocument(*op.doc)); err != nil {
			b.staged.restore(ops)
			return fserrors.IndexWriteError("stage document", p, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		b.staged.restore(ops)
		return fserrors.IndexWriteError("commit", "", err)
	}

	slog.Debug("bleve index committed", slog.Int("mutations", len(paths)))
	return nil
}

// Search runs a match query on content against the last committed state.
func (b *BleveIndex) Search(ctx context.Context, keyword string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(keyword) == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := bleve.NewMatchQuery(keyword)
	q.SetField(fieldContent)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField(fieldContent)
	req.Fields = []string{fieldContent}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("bleve search failed, returning no results",
			slog.String("keyword", keyword),
			slog.String("error", err.Error()))
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{
			Path:    h.ID,
			Score:   h.Score,
			Snippet: bleveSnippet(h),
		})
	}
	return hits, nil
}

func bleveSnippet(h *search.DocumentMatch) string {
	if frags := h.Fragments[fieldContent]; len(frags) > 0 {
		return strings.TrimSpace(frags[0])
	}
	content, _ := h.Fields[fieldContent].(string)
	return truncate(content, snippetFallbackLen)
}

// Get returns the committed document for path.
func (b *BleveIndex) Get(ctx context.Context, path string) (Document, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return Document{}, false, err
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{path}))
	req.Fields = []string{"*"}
	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return Document{}, false, fmt.Errorf("get %s: %w", path, err)
	}
	if len(result.Hits) == 0 {
		return Document{}, false, nil
	}
	return fromBleveFields(path, result.Hits[0].Fields), true, nil
}

// Paths lists committed ids under prefix, overlaid with staged mutations.
func (b *BleveIndex) Paths(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}

	var committed []string
	if count > 0 {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
		if prefix != "" {
			pq := bleve.NewPrefixQuery(prefix)
			pq.SetField(fieldPath)
			req = bleve.NewSearchRequestOptions(pq, int(count), 0, false)
		}
		req.SortBy([]string{"_id"})

		result, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list paths: %w", err)
		}
		committed = make([]string, 0, len(result.Hits))
		for _, h := range result.Hits {
			if prefix == "" || hasPathPrefix(h.ID, prefix) {
				committed = append(committed, h.ID)
			}
		}
	}

	return b.staged.overlay(committed, prefix), nil
}

// Count returns the number of committed documents.
func (b *BleveIndex) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return int(n), nil
}

// Close closes the index. Staged mutations that were never committed are lost.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if n := b.staged.len(); n > 0 {
		slog.Warn("closing bleve index with uncommitted mutations", slog.Int("pending", n))
	}
	return b.index.Close()
}

func toBleveDocument(d Document) bleveDocument {
	return bleveDocument{
		Path:    d.Path,
		Content: d.Content,
		Size:    float64(d.Size),
		ModTime: d.ModTime.UTC().Format(time.RFC3339Nano),
		Hash:    strconv.FormatUint(d.Hash, 16),
	}
}

func fromBleveFields(path string, fields map[string]any) Document {
	doc := Document{Path: path}
	doc.Content, _ = fields[fieldContent].(string)
	if size, ok := fields[fieldSize].(float64); ok {
		doc.Size = int64(size)
	}
	if mod, ok := fields[fieldModTime].(string); ok {
		doc.ModTime, _ = time.Parse(time.RFC3339Nano, mod)
	}
	if h, ok := fields[fieldHash].(string); ok {
		doc.Hash, _ = strconv.ParseUint(h, 16, 64)
	}
	return doc
}
