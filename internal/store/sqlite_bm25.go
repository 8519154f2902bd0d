package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// SQLiteBM25Index is the default lexical index: SQLite FTS5 in WAL
// mode, which unlike bleve tolerates concurrent processes (a running
// watcher plus an ad-hoc search, for instance).
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

const bm25DSNParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// NewSQLiteBM25Index opens or creates the index at path; an empty
// path yields an in-memory index for tests. Detected corruption
// clears the file (plus WAL/SHM sidecars) and starts fresh.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	db, err := openBM25Database(path)
	if err != nil {
		return nil, err
	}

	idx := &SQLiteBM25Index{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

// openBM25Database resolves the DSN, recovers from corruption, and
// applies the connection pragmas.
func openBM25Database(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if err := recoverCorruptBM25(path); err != nil {
			return nil, err
		}
		dsn = path + bm25DSNParams
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer connection avoids SQLite lock contention entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params, so the pragmas are
	// applied explicitly; WAL in particular must go through here.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // 64MB, negative means KB
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

// recoverCorruptBM25 validates an existing database file and clears it
// (with its WAL/SHM sidecars) when damaged, so a corrupted index gets
// rebuilt instead of failing every query.
func recoverCorruptBM25(path string) error {
	validErr := checkBM25Integrity(path)
	if validErr == nil {
		return nil
	}

	slog.Warn("sqlite_bm25_index_corrupted",
		slog.String("path", path),
		slog.String("error", validErr.Error()))

	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")

	slog.Info("sqlite_bm25_index_cleared",
		slog.String("path", path),
		slog.String("reason", "corruption detected, please reindex"))
	return nil
}

// checkBM25Integrity runs PRAGMA integrity_check against an existing
// file and confirms the FTS5 table is present.
func checkBM25Integrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
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
                       WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

// initSchema creates the FTS5 table plus a plain doc_ids table, since
// FTS5 rowids aren't a reliable way to enumerate documents.
func (s *SQLiteBM25Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- content holds pre-tokenized text (identifiers already split), so
	-- the built-in unicode61 tokenizer is enough.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// analyze applies the code tokenizer and stop filter, the same way
// for indexed content and for queries.
func (s *SQLiteBM25Index) analyze(text string) []string {
	return FilterStopWords(TokenizeCode(text), s.stopWords)
}

// Index upserts documents. Content goes through the code tokenizer
// first so camelCase and snake_case identifiers match as words. FTS5
// has no REPLACE, hence delete-then-insert.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := [...]struct {
		name string
		sql  string
	}{
		{"delete", `DELETE FROM fts_content WHERE doc_id = ?`},
		{"FTS", `INSERT INTO fts_content(doc_id, content) VALUES (?, ?)`},
		{"ID", `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`},
	}
	prepared := make([]*sql.Stmt, len(statements))
	for i, st := range statements {
		stmt, err := tx.PrepareContext(ctx, st.sql)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		defer stmt.Close()
		prepared[i] = stmt
	}
	removeOld, insertContent, trackID := prepared[0], prepared[1], prepared[2]

	for _, doc := range docs {
		content := strings.Join(s.analyze(doc.Content), " ")

		if _, err := removeOld.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := insertContent.ExecContext(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := trackID.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search tokenizes the query exactly like indexed content and ranks
// with FTS5's built-in bm25().
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	tokens := s.analyze(queryStr)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}

	// bm25() scores are negative with lower meaning better, so the
	// ascending ORDER BY puts the best hits first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_content) as score
		FROM fts_content
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?
	`, strings.Join(tokens, " "), limit)
	if err != nil {
		// FTS5 raises a syntax error for unparseable MATCH input;
		// treat that as no results, not a failure.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{
			DocID:        docID,
			Score:        -score, // flip so higher is better, like bleve
			MatchedTerms: tokens,
		})
	}
	return results, rows.Err()
}

// Delete removes documents from both tables in one transaction.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inClause := strings.TrimSuffix(strings.Repeat("?,", len(docIDs)), ",")
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		args[i] = id
	}

	for _, table := range []string{"fts_content", "doc_ids"} {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE doc_id IN (%s)", table, inClause)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// AllIDs enumerates every indexed document, sorted, for consistency
// reconciliation.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats reports the document count; FTS5 doesn't expose term counts
// without reading internal tables.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: count}
}

// Save forces a WAL checkpoint so everything is in the main file.
func (s *SQLiteBM25Index) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Load reopens the index at a new path.
func (s *SQLiteBM25Index) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}

	db, err := sql.Open("sqlite", path+bm25DSNParams)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	s.db = db
	s.path = path
	s.closed = false
	return nil
}

// Close checkpoints and closes. Idempotent.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
