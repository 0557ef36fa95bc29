package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// SQLiteIndex implements TextIndex on SQLite FTS5. Staged mutations are
// applied in one transaction on Commit.
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	staged *staging
}

var _ TextIndex = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens the database at path, creating it if needed.
// An empty path creates an in-memory database.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fserrors.IndexUnavailableError("cannot create index directory", err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("sqlite index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fserrors.IndexUnavailableError("index corrupted and cannot be removed", err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fserrors.IndexUnavailableError("failed to open database", err)
	}

	// One connection: :memory: databases are per-connection, and a single
	// writer avoids SQLITE_BUSY inside the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fserrors.IndexUnavailableError("failed to set pragma", err)
		}
	}

	idx := &SQLiteIndex{db: db, path: path, staged: newStaging()}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fserrors.IndexUnavailableError("failed to initialize schema", err)
	}
	return idx, nil
}

func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name IN ('documents', 'fts_content')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 2 {
		return errors.New("index tables missing")
	}
	return nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		path     TEXT PRIMARY KEY,
		size     INTEGER NOT NULL,
		mod_time TEXT NOT NULL,
		hash     INTEGER NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		path UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteIndex) checkOpen() error {
	if s.closed {
		return ErrIndexClosed
	}
	return nil
}

// Upsert stages doc.
func (s *SQLiteIndex) Upsert(_ context.Context, doc Document) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.staged.upsert(doc)
	return nil
}

// Delete stages removal of path.
func (s *SQLiteIndex) Delete(_ context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.staged.delete(path)
	return nil
}

// Pending returns the number of staged mutations.
func (s *SQLiteIndex) Pending() int {
	return s.staged.len()
}

// Staged reports the uncommitted mutation for path, if any.
func (s *SQLiteIndex) Staged(path string) (deleted, ok bool) {
	op, ok := s.staged.lookup(path)
	return ok && op.doc == nil, ok
}

// Discard drops all staged mutations without applying them.
func (s *SQLiteIndex) Discard() []string {
	paths, _ := s.staged.take()
	return paths
}

// Commit applies all staged mutations in one transaction.
func (s *SQLiteIndex) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	paths, ops := s.staged.take()
	if len(paths) == 0 {
		return nil
	}

	if err := s.apply(ctx, paths, ops); err != nil {
		s.staged.restore(ops)
		return fserrors.IndexWriteError("commit", "", err)
	}

	slog.Debug("sqlite index committed", slog.Int("mutations", len(paths)))
	return nil
}

func (s *SQLiteIndex) apply(ctx context.Context, paths []string, ops map[string]stagedOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 tables have no REPLACE, so every op deletes first.
	delFTS, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer delFTS.Close()

	delDoc, err := tx.PrepareContext(ctx, `DELETE FROM documents WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer delDoc.Close()

	insFTS, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(path, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insFTS.Close()

	insDoc, err := tx.PrepareContext(ctx,
		`INSERT INTO documents(path, size, mod_time, hash) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare document statement: %w", err)
	}
	defer insDoc.Close()

	for _, p := range paths {
		if _, err := delFTS.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
		if _, err := delDoc.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}

		doc := ops[p].doc
		if doc == nil {
			continue
		}
		if _, err := insFTS.ExecContext(ctx, p, doc.Content); err != nil {
			return fmt.Errorf("failed to index %s: %w", p, err)
		}
		modTime := doc.ModTime.UTC().Format(time.RFC3339Nano)
		if _, err := insDoc.ExecContext(ctx, p, doc.Size, modTime, int64(doc.Hash)); err != nil {
			return fmt.Errorf("failed to record %s: %w", p, err)
		}
	}

	return tx.Commit()
}

// Search matches any term of keyword, scored by bm25.
func (s *SQLiteIndex) Search(ctx context.Context, keyword string, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	terms := queryTerms(keyword)
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	// bm25() is negative with lower meaning better.
	query := `
		SELECT path, bm25(fts_content) AS score,
		       snippet(fts_content, 1, '<mark>', '</mark>', '...', 24)
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score, path
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, ftsMatchExpr(terms), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []Hit{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.Path, &score, &h.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Score = -score
		h.Snippet = strings.TrimSpace(h.Snippet)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Get returns the committed document for path.
func (s *SQLiteIndex) Get(ctx context.Context, path string) (Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Document{}, false, err
	}

	var (
		doc     = Document{Path: path}
		modTime string
		hash    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT d.size, d.mod_time, d.hash, f.content
		FROM documents d JOIN fts_content f ON f.path = d.path
		WHERE d.path = ?`, path).Scan(&doc.Size, &modTime, &hash, &doc.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get %s: %w", path, err)
	}
	doc.ModTime, _ = time.Parse(time.RFC3339Nano, modTime)
	doc.Hash = uint64(hash)
	return doc, true, nil
}

// Paths lists committed paths under prefix, overlaid with staged mutations.
func (s *SQLiteIndex) Paths(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE substr(path, 1, length(?)) = ? ORDER BY path`,
		prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer rows.Close()

	var committed []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		if prefix == "" || hasPathPrefix(p, prefix) {
			committed = append(committed, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.staged.overlay(committed, prefix), nil
}

// Count returns the number of committed documents.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if n := s.staged.len(); n > 0 {
		slog.Warn("closing sqlite index with uncommitted mutations", slog.Int("pending", n))
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
