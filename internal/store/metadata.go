package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// StoreConfig tunes the SQLite metadata store's resource usage.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size in megabytes.
	CacheSizeMB int
}

// DefaultStoreConfig returns sensible defaults for the metadata store.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// SQLiteStore implements MetadataStore on top of a single SQLite database file.
// The DB handle is opened once and held for the lifetime of the store (WAL mode
// allows concurrent readers); writers are serialized by SQLite's own locking.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	project_type TEXT,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	file_count INTEGER NOT NULL DEFAULT 0,
	indexed_at INTEGER,
	version TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	mod_time INTEGER,
	content_hash TEXT,
	language TEXT,
	content_type TEXT,
	indexed_at INTEGER,
	UNIQUE(project_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
CREATE INDEX IF NOT EXISTS idx_files_mod_time ON files(mod_time);

CREATE TABLE IF NOT EXISTS code_chunks (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	content TEXT,
	raw_content TEXT,
	context TEXT,
	content_type TEXT,
	language TEXT,
	start_line INTEGER,
	end_line INTEGER,
	symbols TEXT,
	metadata TEXT,
	embedding BLOB,
	embedding_model TEXT,
	created_at INTEGER,
	updated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON code_chunks(file_id);
CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON code_chunks(file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_language ON code_chunks(language);

CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS intention_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_normalized TEXT NOT NULL UNIQUE,
	original_query TEXT NOT NULL,
	target_sha TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER,
	last_used INTEGER
);
CREATE INDEX IF NOT EXISTS idx_intention_target ON intention_cache(target_sha);
CREATE INDEX IF NOT EXISTS idx_intention_usage ON intention_cache(usage_count DESC);

CREATE TABLE IF NOT EXISTS query_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern TEXT NOT NULL UNIQUE,
	frequency INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER,
	updated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_query_patterns_freq ON query_patterns(frequency DESC);
`

// NewSQLiteStore opens (creating if necessary) the metadata database at path
// using the default cache size.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens the metadata database at path with a tuned
// page cache size. A zero CacheSizeMB falls back to the default.
func NewSQLiteStoreWithConfig(path string, cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata db directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening metadata db %s: %w", path, err)
	}

	// Single writer connection avoids SQLITE_BUSY under concurrent access;
	// WAL mode still lets readers proceed without blocking on the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// SQLite page cache is negative-KB when set this way; -N*1024 means N MB.
	cachePragma := fmt.Sprintf("PRAGMA cache_size = -%d;", cfg.CacheSizeMB*1024)
	for _, stmt := range []string{"PRAGMA foreign_keys = ON;", cachePragma} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", stmt, err)
		}
	}

	if _, err := db.Exec(metadataSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating metadata schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// DB exposes the underlying *sql.DB for callers that need raw access
// (migrations, diagnostics, ad hoc queries from `pampax index info`).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Project operations ---

func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			root_path=excluded.root_path,
			project_type=excluded.project_type,
			chunk_count=excluded.chunk_count,
			file_count=excluded.file_count,
			indexed_at=excluded.indexed_at,
			version=excluded.version`,
		p.ID, p.Name, p.RootPath, p.ProjectType, p.ChunkCount, p.FileCount, timeToUnix(p.IndexedAt), p.Version)
	if err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version
		FROM projects WHERE id = ?`, id)

	var p Project
	var projectType, version sql.NullString
	var indexedAt sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &projectType, &p.ChunkCount, &p.FileCount, &indexedAt, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", id, err)
	}
	p.ProjectType = projectType.String
	p.Version = version.String
	p.IndexedAt = unixToTime(indexedAt.Int64)
	return &p, nil
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_count = ?, chunk_count = ? WHERE id = ?`,
		fileCount, chunkCount, id)
	if err != nil {
		return fmt.Errorf("updating project stats %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RefreshProjectStats(ctx context.Context, id string) error {
	var fileCount, chunkCount int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE project_id = ?`, id).Scan(&fileCount); err != nil {
		return fmt.Errorf("counting files for project %s: %w", id, err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM code_chunks WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)`, id).
		Scan(&chunkCount); err != nil {
		return fmt.Errorf("counting chunks for project %s: %w", id, err)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?`,
		fileCount, chunkCount, timeToUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("refreshing project stats %s: %w", id, err)
	}
	return nil
}

// --- File operations ---

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning file save tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			id=excluded.id,
			size=excluded.size,
			mod_time=excluded.mod_time,
			content_hash=excluded.content_hash,
			language=excluded.language,
			content_type=excluded.content_type,
			indexed_at=excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("preparing file upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.ProjectID, f.Path, f.Size,
			timeToUnix(f.ModTime), f.ContentHash, f.Language, f.ContentType, timeToUnix(f.IndexedAt)); err != nil {
			return fmt.Errorf("saving file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

func scanFile(scanner interface {
	Scan(dest ...any) error
}) (*File, error) {
	var f File
	var modTime, indexedAt sql.NullInt64
	var contentHash, language, contentType sql.NullString
	if err := scanner.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime,
		&contentHash, &language, &contentType, &indexedAt); err != nil {
		return nil, err
	}
	f.ModTime = unixToTime(modTime.Int64)
	f.ContentHash = contentHash.String
	f.Language = language.String
	f.ContentType = contentType.String
	f.IndexedAt = unixToTime(indexedAt.Int64)
	return &f, nil
}

const fileSelectColumns = `id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at`

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileSelectColumns+` FROM files WHERE project_id = ? AND path = ?`, projectID, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting file %s: %w", path, err)
	}
	return f, nil
}

func (s *SQLiteStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileSelectColumns+` FROM files WHERE project_id = ? AND mod_time > ? ORDER BY mod_time ASC`,
		projectID, timeToUnix(since))
	if err != nil {
		return nil, fmt.Errorf("querying changed files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning changed file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListFiles returns a page of files for a project. The cursor is an opaque,
// base64-encoded "offset:N" token; an empty cursor starts from the beginning.
func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileSelectColumns+` FROM files WHERE project_id = ? ORDER BY path ASC LIMIT ? OFFSET ?`,
		projectID, limit+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(files) > limit {
		files = files[:limit]
		nextCursor = encodeCursor(offset + limit)
	}
	return files, nextCursor, nil
}

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	s := string(decoded)
	offsetStr, ok := strings.CutPrefix(s, "offset:")
	if !ok {
		return 0, fmt.Errorf("invalid cursor format: %q", s)
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("cursor offset must be non-negative, got %d", offset)
	}
	return offset, nil
}

func (s *SQLiteStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileSelectColumns+` FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying files for reconciliation: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*File)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result[f.Path] = f
	}
	return result, rows.Err()
}

func (s *SQLiteStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	dirPrefix = strings.TrimSuffix(dirPrefix, "/")

	var rows *sql.Rows
	var err error
	if dirPrefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ?`, projectID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT path FROM files WHERE project_id = ? AND (path = ? OR path LIKE ?)`,
			projectID, dirPrefix, dirPrefix+"/%")
	}
	if err != nil {
		return nil, fmt.Errorf("listing file paths under %s: %w", dirPrefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete file tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM code_chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("deleting chunks for file %s: %w", fileID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete project files tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM code_chunks WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)`, projectID); err != nil {
		return fmt.Errorf("deleting chunks for project %s: %w", projectID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("deleting files for project %s: %w", projectID, err)
	}
	return tx.Commit()
}

// --- Chunk operations ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk save tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO code_chunks (id, file_id, file_path, content, raw_content, context, content_type,
			language, start_line, end_line, symbols, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id=excluded.file_id,
			file_path=excluded.file_path,
			content=excluded.content,
			raw_content=excluded.raw_content,
			context=excluded.context,
			content_type=excluded.content_type,
			language=excluded.language,
			start_line=excluded.start_line,
			end_line=excluded.end_line,
			symbols=excluded.symbols,
			metadata=excluded.metadata,
			updated_at=excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		symbolsJSON, err := json.Marshal(c.Symbols)
		if err != nil {
			return fmt.Errorf("marshaling symbols for chunk %s: %w", c.ID, err)
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		updatedAt := c.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.FileID, c.FilePath, c.Content, c.RawContent,
			c.Context, string(c.ContentType), c.Language, c.StartLine, c.EndLine,
			string(symbolsJSON), string(metadataJSON), timeToUnix(createdAt), timeToUnix(updatedAt)); err != nil {
			return fmt.Errorf("saving chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const chunkSelectColumns = `id, file_id, file_path, content, raw_content, context, content_type,
	language, start_line, end_line, symbols, metadata, created_at, updated_at`

func scanChunk(scanner interface {
	Scan(dest ...any) error
}) (*Chunk, error) {
	var c Chunk
	var contentType, symbolsJSON, metadataJSON sql.NullString
	var createdAt, updatedAt sql.NullInt64
	if err := scanner.Scan(&c.ID, &c.FileID, &c.FilePath, &c.Content, &c.RawContent, &c.Context,
		&contentType, &c.Language, &c.StartLine, &c.EndLine, &symbolsJSON, &metadataJSON,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ContentType = ContentType(contentType.String)
	c.CreatedAt = unixToTime(createdAt.Int64)
	c.UpdatedAt = unixToTime(updatedAt.Int64)

	if symbolsJSON.Valid && symbolsJSON.String != "" {
		if err := json.Unmarshal([]byte(symbolsJSON.String), &c.Symbols); err != nil {
			c.Symbols = nil // defensive: malformed JSON falls back to empty
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &c.Metadata); err != nil {
			c.Metadata = nil
		}
	}
	return &c, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkSelectColumns+` FROM code_chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT ` + chunkSelectColumns + ` FROM code_chunks WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkSelectColumns+` FROM code_chunks WHERE file_id = ? ORDER BY start_line ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("getting chunks for file %s: %w", fileID, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `DELETE FROM code_chunks WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if affected, _ := res.RowsAffected(); int(affected) < len(ids) {
		slog.Warn("pampax_delete_chunks_partial",
			slog.Int("requested", len(ids)), slog.Int64("deleted", affected))
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM code_chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("deleting chunks for file %s: %w", fileID, err)
	}
	return nil
}

// --- Symbol operations ---

func (s *SQLiteStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	if limit <= 0 {
		limit = 20
	}
	// Symbols are stored as a JSON array per chunk; a LIKE scan over the JSON
	// text is sufficient for this store's scale and avoids a separate table.
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbols FROM code_chunks WHERE symbols LIKE ? AND symbols IS NOT NULL`, "%"+name+"%")
	if err != nil {
		return nil, fmt.Errorf("searching symbols: %w", err)
	}
	defer rows.Close()

	var matches []*Symbol
	for rows.Next() {
		var symbolsJSON string
		if err := rows.Scan(&symbolsJSON); err != nil {
			return nil, err
		}
		var symbols []*Symbol
		if err := json.Unmarshal([]byte(symbolsJSON), &symbols); err != nil {
			continue
		}
		for _, sym := range symbols {
			if strings.Contains(sym.Name, name) {
				matches = append(matches, sym)
				if len(matches) >= limit {
					return matches, nil
				}
			}
		}
	}
	return matches, rows.Err()
}

// --- State operations ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting state %s: %w", key, err)
	}
	return nil
}

// --- Embedding operations ---

func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("chunkIDs and embeddings length mismatch: %d vs %d", len(chunkIDs), len(embeddings))
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning embedding save tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE code_chunks SET embedding = ?, embedding_model = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing embedding update: %w", err)
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, embeddingToBytes(embeddings[i]), model, id); err != nil {
			return fmt.Errorf("saving embedding for chunk %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM code_chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("getting all embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		if vec := bytesToEmbedding(raw); vec != nil {
			result[id] = vec
		}
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error) {
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM code_chunks WHERE embedding IS NOT NULL`).Scan(&withEmbedding); err != nil {
		return 0, 0, fmt.Errorf("counting chunks with embeddings: %w", err)
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM code_chunks WHERE embedding IS NULL`).Scan(&withoutEmbedding); err != nil {
		return 0, 0, fmt.Errorf("counting chunks without embeddings: %w", err)
	}
	return withEmbedding, withoutEmbedding, nil
}

// embeddingToBytes encodes a float32 vector as a length-prefixed little-endian
// byte blob: 4-byte count followed by count*4 float32 bytes.
func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4+len(v)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], math.Float32bits(f))
	}
	return buf
}

// bytesToEmbedding decodes a blob written by embeddingToBytes. Malformed or
// short input returns nil rather than panicking.
func bytesToEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	if 4+int(count)*4 > len(b) {
		return nil
	}
	v := make([]float32, count)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4+i*4 : 8+i*4]))
	}
	return v
}

// --- Checkpoint operations ---

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	pairs := map[string]string{
		StateKeyCheckpointStage:         stage,
		StateKeyCheckpointTotal:         strconv.Itoa(total),
		StateKeyCheckpointEmbedded:      strconv.Itoa(embeddedCount),
		StateKeyCheckpointTimestamp:     strconv.FormatInt(time.Now().Unix(), 10),
		StateKeyCheckpointEmbedderModel: embedderModel,
	}
	for k, v := range pairs {
		if err := s.SetState(ctx, k, v); err != nil {
			return fmt.Errorf("saving checkpoint state %s: %w", k, err)
		}
	}
	return nil
}

func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	stage, err := s.GetState(ctx, StateKeyCheckpointStage)
	if err != nil {
		return nil, err
	}
	if stage == "" || stage == "complete" {
		return nil, nil
	}

	total, err := s.getStateInt(ctx, StateKeyCheckpointTotal)
	if err != nil {
		return nil, err
	}
	embedded, err := s.getStateInt(ctx, StateKeyCheckpointEmbedded)
	if err != nil {
		return nil, err
	}
	tsRaw, err := s.GetState(ctx, StateKeyCheckpointTimestamp)
	if err != nil {
		return nil, err
	}
	model, err := s.GetState(ctx, StateKeyCheckpointEmbedderModel)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if tsRaw != "" {
		if unixSec, err := strconv.ParseInt(tsRaw, 10, 64); err == nil {
			ts = time.Unix(unixSec, 0)
		}
	}

	return &IndexCheckpoint{
		Stage:         stage,
		Total:         total,
		EmbeddedCount: embedded,
		Timestamp:     ts,
		EmbedderModel: model,
	}, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	return s.SetState(ctx, StateKeyCheckpointStage, "")
}

func (s *SQLiteStore) getStateInt(ctx context.Context, key string) (int, error) {
	raw, err := s.GetState(ctx, key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing state %s as int: %w", key, err)
	}
	return n, nil
}

// --- Intention cache operations ---

// LookupIntention returns the learned mapping for a normalized query, or nil
// if no cache entry exists.
func (s *SQLiteStore) LookupIntention(ctx context.Context, normalizedQuery string) (*IntentionCacheEntry, error) {
	var e IntentionCacheEntry
	var created, lastUsed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT query_normalized, original_query, target_sha, confidence, usage_count, created_at, last_used
		FROM intention_cache WHERE query_normalized = ?`, normalizedQuery).Scan(
		&e.QueryNormalized, &e.OriginalQuery, &e.TargetSHA, &e.Confidence, &e.UsageCount, &created, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up intention cache: %w", err)
	}
	e.CreatedAt = unixToTime(created)
	e.LastUsed = unixToTime(lastUsed)
	return &e, nil
}

// RecordIntention upserts a learned query -> chunk mapping. A re-record of
// the same normalized query overwrites the target and confidence but keeps
// accumulating usage_count.
func (s *SQLiteStore) RecordIntention(ctx context.Context, normalizedQuery, originalQuery, targetSHA string, confidence float64) error {
	now := timeToUnix(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intention_cache (query_normalized, original_query, target_sha, confidence, usage_count, created_at, last_used)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(query_normalized) DO UPDATE SET
			original_query = excluded.original_query,
			target_sha = excluded.target_sha,
			confidence = excluded.confidence,
			usage_count = intention_cache.usage_count + 1,
			last_used = excluded.last_used`,
		normalizedQuery, originalQuery, targetSHA, confidence, now, now)
	if err != nil {
		return fmt.Errorf("recording intention cache entry: %w", err)
	}
	return nil
}

// TouchIntention bumps usage_count and last_used for a cache hit without
// changing the learned target or confidence.
func (s *SQLiteStore) TouchIntention(ctx context.Context, normalizedQuery string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE intention_cache SET usage_count = usage_count + 1, last_used = ?
		WHERE query_normalized = ?`, timeToUnix(time.Now()), normalizedQuery)
	if err != nil {
		return fmt.Errorf("touching intention cache entry: %w", err)
	}
	return nil
}

// --- Query pattern operations ---

// RecordQueryPattern inserts or increments the frequency of a normalized
// query pattern (named entities replaced by placeholders).
func (s *SQLiteStore) RecordQueryPattern(ctx context.Context, pattern string) error {
	now := timeToUnix(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_patterns (pattern, frequency, created_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			frequency = query_patterns.frequency + 1,
			updated_at = excluded.updated_at`,
		pattern, now, now)
	if err != nil {
		return fmt.Errorf("recording query pattern: %w", err)
	}
	return nil
}

// TopQueryPatterns returns the most frequent query patterns, most frequent
// first.
func (s *SQLiteStore) TopQueryPatterns(ctx context.Context, limit int) ([]*QueryPatternEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, frequency, created_at, updated_at
		FROM query_patterns ORDER BY frequency DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing query patterns: %w", err)
	}
	defer rows.Close()

	var out []*QueryPatternEntry
	for rows.Next() {
		var e QueryPatternEntry
		var created, updated int64
		if err := rows.Scan(&e.Pattern, &e.Frequency, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning query pattern: %w", err)
		}
		e.CreatedAt = unixToTime(created)
		e.UpdatedAt = unixToTime(updated)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- time helpers ---

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
