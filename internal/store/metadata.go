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
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// StoreConfig configures the SQLite metadata store.
type StoreConfig struct {
	CacheSizeMB int // SQLite page cache size, in MB. 0 uses the default.
}

// DefaultStoreConfig returns the default metadata store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// SQLiteStore implements MetadataStore backed by a SQLite database.
// It shares the WAL-mode, single-writer conventions used by SQLiteBM25Index.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// validateMetadataIntegrity checks if a SQLite metadata database is valid before opening.
func validateMetadataIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
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

	return nil
}

// NewSQLiteStore opens (or creates) a metadata database at dbPath using the
// default store configuration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(dbPath, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig opens (or creates) a metadata database at dbPath
// with a configurable page cache size.
func NewSQLiteStoreWithConfig(dbPath string, cfg StoreConfig) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if validErr := validateMetadataIntegrity(dbPath); validErr != nil {
		slog.Warn("metadata_db_corrupted",
			slog.String("path", dbPath),
			slog.String("error", validErr.Error()))

		if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("metadata database corrupted at %s and cannot remove: %w (original error: %v)", dbPath, removeErr, validErr)
		}
		_ = os.Remove(dbPath + "-wal")
		_ = os.Remove(dbPath + "-shm")

		slog.Info("metadata_db_cleared",
			slog.String("path", dbPath),
			slog.String("reason", "corruption detected, please reindex"))
	}

	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	cacheSizeMB := cfg.CacheSizeMB
	if cacheSizeMB <= 0 {
		cacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}

	// Pragmas set via statements since modernc.org/sqlite may ignore DSN params.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheSizeMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		root_path     TEXT NOT NULL,
		project_type  TEXT,
		chunk_count   INTEGER NOT NULL DEFAULT 0,
		file_count    INTEGER NOT NULL DEFAULT 0,
		indexed_at    TIMESTAMP,
		version       TEXT
	);

	CREATE TABLE IF NOT EXISTS files (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL,
		path          TEXT NOT NULL,
		size          INTEGER NOT NULL DEFAULT 0,
		mod_time      TIMESTAMP,
		content_hash  TEXT,
		language      TEXT,
		content_type  TEXT,
		indexed_at    TIMESTAMP,
		UNIQUE(project_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
	CREATE INDEX IF NOT EXISTS idx_files_mod_time ON files(project_id, mod_time);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		file_id      TEXT NOT NULL,
		file_path    TEXT,
		module_path  TEXT,
		imports      TEXT,
		content      TEXT,
		raw_content  TEXT,
		context      TEXT,
		content_type TEXT,
		language     TEXT,
		start_line   INTEGER,
		end_line     INTEGER,
		metadata     TEXT,
		embedding    BLOB,
		embed_model  TEXT,
		created_at   TIMESTAMP,
		updated_at   TIMESTAMP,
		FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

	CREATE TABLE IF NOT EXISTS symbols (
		chunk_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		type        TEXT,
		start_line  INTEGER,
		end_line    INTEGER,
		signature   TEXT,
		doc_comment TEXT,
		calls       TEXT,
		FOREIGN KEY(chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	CREATE INDEX IF NOT EXISTS idx_symbols_chunk ON symbols(chunk_id);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_checkpoint (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		stage          TEXT NOT NULL,
		total          INTEGER NOT NULL,
		embedded_count INTEGER NOT NULL,
		embedder_model TEXT,
		updated_at     TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB returns the underlying database handle, shared with components (such as
// query telemetry) that need to persist alongside the same metadata file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- Project operations ---

func (s *SQLiteStore) SaveProject(ctx context.Context, project *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			project_type = excluded.project_type,
			chunk_count = excluded.chunk_count,
			file_count = excluded.file_count,
			indexed_at = excluded.indexed_at,
			version = excluded.version
	`, project.ID, project.Name, project.RootPath, project.ProjectType,
		project.ChunkCount, project.FileCount, timeOrNil(project.IndexedAt), project.Version)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", project.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version
		FROM projects WHERE id = ?
	`, id)

	var p Project
	var indexedAt sql.NullTime
	var projectType, version sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &projectType, &p.ChunkCount, &p.FileCount, &indexedAt, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	p.ProjectType = projectType.String
	p.Version = version.String
	if indexedAt.Valid {
		p.IndexedAt = indexedAt.Time
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?
	`, fileCount, chunkCount, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update stats for project %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RefreshProjectStats(ctx context.Context, id string) error {
	var fileCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, id).Scan(&fileCount); err != nil {
		return fmt.Errorf("failed to count files for project %s: %w", id, err)
	}

	var chunkCount int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c JOIN files f ON c.file_id = f.id WHERE f.project_id = ?
	`, id).Scan(&chunkCount)
	if err != nil {
		return fmt.Errorf("failed to count chunks for project %s: %w", id, err)
	}

	return s.UpdateProjectStats(ctx, id, fileCount, chunkCount)
}

// --- File operations ---

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			id = excluded.id,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			content_type = excluded.content_type,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.ProjectID, f.Path, f.Size,
			timeOrNil(f.ModTime), f.ContentHash, f.Language, f.ContentType, timeOrNil(f.IndexedAt)); err != nil {
			return fmt.Errorf("failed to save file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? AND path = ?
	`, projectID, path)

	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}
	return f, nil
}

func (s *SQLiteStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? AND mod_time > ?
	`, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListFiles returns a page of files under projectID, ordered by path. The
// cursor is a base64-encoded "offset:<N>" token; an empty cursor starts from
// the beginning, and an empty returned cursor means there are no more pages.
func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error) {
	offset, err := decodeOffsetCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ? ORDER BY path LIMIT ? OFFSET ?
	`, projectID, limit+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(files) > limit {
		files = files[:limit]
		nextCursor = encodeOffsetCursor(offset + limit)
	}
	return files, nextCursor, nil
}

func (s *SQLiteStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files for reconciliation: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*File)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
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
		rows, err = s.db.QueryContext(ctx, `
			SELECT path FROM files WHERE project_id = ? AND (path = ? OR path LIKE ?)
		`, projectID, dirPrefix, dirPrefix+"/%")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file paths under %s: %w", dirPrefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete files for project %s: %w", projectID, err)
	}
	return nil
}

// --- Chunk operations ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_id, file_path, module_path, imports, content, raw_content, context,
			content_type, language, start_line, end_line, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_id = excluded.file_id,
			file_path = excluded.file_path,
			module_path = excluded.module_path,
			imports = excluded.imports,
			content = excluded.content,
			raw_content = excluded.raw_content,
			context = excluded.context,
			content_type = excluded.content_type,
			language = excluded.language,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	deleteSymbolsStmt, err := tx.PrepareContext(ctx, `DELETE FROM symbols WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare symbol delete: %w", err)
	}
	defer deleteSymbolsStmt.Close()

	symbolStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (chunk_id, name, type, start_line, end_line, signature, doc_comment, calls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare symbol insert: %w", err)
	}
	defer symbolStmt.Close()

	now := time.Now()
	for _, c := range chunks {
		createdAt, updatedAt := c.CreatedAt, c.UpdatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if updatedAt.IsZero() {
			updatedAt = now
		}

		importsJSON, err := marshalJSON(c.Imports)
		if err != nil {
			return fmt.Errorf("failed to marshal imports for chunk %s: %w", c.ID, err)
		}
		metadataJSON, err := marshalJSON(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
		}

		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.FileID, c.FilePath, c.ModulePath, importsJSON,
			c.Content, c.RawContent, c.Context, string(c.ContentType), c.Language,
			c.StartLine, c.EndLine, metadataJSON, createdAt, updatedAt); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}

		if _, err := deleteSymbolsStmt.ExecContext(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to clear symbols for chunk %s: %w", c.ID, err)
		}
		for _, sym := range c.Symbols {
			callsJSON, err := marshalJSON(sym.Calls)
			if err != nil {
				return fmt.Errorf("failed to marshal calls for symbol %s: %w", sym.Name, err)
			}
			if _, err := symbolStmt.ExecContext(ctx, c.ID, sym.Name, string(sym.Type),
				sym.StartLine, sym.EndLine, sym.Signature, sym.DocComment, callsJSON); err != nil {
				return fmt.Errorf("failed to save symbol %s: %w", sym.Name, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, file_path, module_path, imports, content, raw_content, context,
			content_type, language, start_line, end_line, metadata, created_at, updated_at
		FROM chunks WHERE id = ?
	`, id)

	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}

	symbols, err := s.symbolsForChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Symbols = symbols
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

	query := fmt.Sprintf(`
		SELECT id, file_id, file_path, module_path, imports, content, raw_content, context,
			content_type, language, start_line, end_line, metadata, created_at, updated_at
		FROM chunks WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range chunks {
		symbols, err := s.symbolsForChunk(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Symbols = symbols
	}
	return chunks, nil
}

func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, file_path, module_path, imports, content, raw_content, context,
			content_type, language, start_line, end_line, metadata, created_at, updated_at
		FROM chunks WHERE file_id = ?
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks for file %s: %w", fileID, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range chunks {
		symbols, err := s.symbolsForChunk(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Symbols = symbols
	}
	return chunks, nil
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

	query := fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for file %s: %w", fileID, err)
	}
	return nil
}

func (s *SQLiteStore) symbolsForChunk(ctx context.Context, chunkID string) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, start_line, end_line, signature, doc_comment, calls
		FROM symbols WHERE chunk_id = ?
	`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to load symbols for chunk %s: %w", chunkID, err)
	}
	defer rows.Close()

	var symbols []*Symbol
	for rows.Next() {
		var sym Symbol
		var symType string
		var callsJSON sql.NullString
		if err := rows.Scan(&sym.Name, &symType, &sym.StartLine, &sym.EndLine,
			&sym.Signature, &sym.DocComment, &callsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan symbol row: %w", err)
		}
		sym.Type = SymbolType(symType)
		if callsJSON.Valid && callsJSON.String != "" {
			if err := json.Unmarshal([]byte(callsJSON.String), &sym.Calls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal calls for symbol %s: %w", sym.Name, err)
			}
		}
		symbols = append(symbols, &sym)
	}
	return symbols, rows.Err()
}

// --- Symbol operations ---

func (s *SQLiteStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, start_line, end_line, signature, doc_comment, calls
		FROM symbols WHERE name LIKE ? ORDER BY name LIMIT ?
	`, "%"+name+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*Symbol
	for rows.Next() {
		var sym Symbol
		var symType string
		var callsJSON sql.NullString
		if err := rows.Scan(&sym.Name, &symType, &sym.StartLine, &sym.EndLine,
			&sym.Signature, &sym.DocComment, &callsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan symbol row: %w", err)
		}
		sym.Type = SymbolType(symType)
		if callsJSON.Valid && callsJSON.String != "" {
			if err := json.Unmarshal([]byte(callsJSON.String), &sym.Calls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal calls for symbol %s: %w", sym.Name, err)
			}
		}
		symbols = append(symbols, &sym)
	}
	return symbols, rows.Err()
}

// --- State operations ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// --- Embedding operations ---

func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("chunkIDs and embeddings length mismatch: %d != %d", len(chunkIDs), len(embeddings))
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET embedding = ?, embed_model = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding update: %w", err)
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, embeddingToBytes(embeddings[i]), model, id); err != nil {
			return fmt.Errorf("failed to save embedding for chunk %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		if emb := bytesToEmbedding(blob); emb != nil {
			result[id] = emb
		}
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetEmbeddingStats(ctx context.Context) (withEmbedding, withoutEmbedding int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&withEmbedding)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count embedded chunks: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NULL`).Scan(&withoutEmbedding)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count unembedded chunks: %w", err)
	}
	return withEmbedding, withoutEmbedding, nil
}

// --- Checkpoint operations ---

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_checkpoint (id, stage, total, embedded_count, embedder_model, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			total = excluded.total,
			embedded_count = excluded.embedded_count,
			embedder_model = excluded.embedder_model,
			updated_at = excluded.updated_at
	`, stage, total, embeddedCount, embedderModel, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save index checkpoint: %w", err)
	}
	return nil
}

// LoadIndexCheckpoint returns the saved checkpoint, or nil if none exists or
// the saved stage is "complete" (nothing left to resume).
func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stage, total, embedded_count, embedder_model, updated_at FROM index_checkpoint WHERE id = 1
	`)

	var cp IndexCheckpoint
	var model sql.NullString
	err := row.Scan(&cp.Stage, &cp.Total, &cp.EmbeddedCount, &model, &cp.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index checkpoint: %w", err)
	}
	cp.EmbedderModel = model.String
	if cp.Stage == "complete" {
		return nil, nil
	}
	return &cp, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM index_checkpoint WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to clear index checkpoint: %w", err)
	}
	return nil
}

// --- Lifecycle ---

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanFile(row scannable) (*File, error) {
	var f File
	var modTime, indexedAt sql.NullTime
	var contentHash, language, contentType sql.NullString
	err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &contentHash, &language, &contentType, &indexedAt)
	if err != nil {
		return nil, err
	}
	if modTime.Valid {
		f.ModTime = modTime.Time
	}
	if indexedAt.Valid {
		f.IndexedAt = indexedAt.Time
	}
	f.ContentHash = contentHash.String
	f.Language = language.String
	f.ContentType = contentType.String
	return &f, nil
}

func scanChunk(row scannable) (*Chunk, error) {
	var c Chunk
	var modulePath, importsJSON, rawContent, chunkContext, contentType, language, metadataJSON sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&c.ID, &c.FileID, &c.FilePath, &modulePath, &importsJSON, &c.Content, &rawContent,
		&chunkContext, &contentType, &language, &c.StartLine, &c.EndLine, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.ModulePath = modulePath.String
	c.RawContent = rawContent.String
	c.Context = chunkContext.String
	c.ContentType = ContentType(contentType.String)
	c.Language = language.String
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	if importsJSON.Valid && importsJSON.String != "" {
		if err := json.Unmarshal([]byte(importsJSON.String), &c.Imports); err != nil {
			return nil, fmt.Errorf("failed to unmarshal imports: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &c, nil
}

func marshalJSON(v any) (string, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return "", nil
		}
	case map[string]string:
		if len(val) == 0 {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// embeddingToBytes packs a float32 embedding into a little-endian byte
// blob for storage. Returns nil for an empty slice.
func embeddingToBytes(emb []float32) []byte {
	if len(emb) == 0 {
		return nil
	}
	buf := make([]byte, len(emb)*4)
	for i, v := range emb {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToEmbedding is the inverse of embeddingToBytes. Returns nil for
// empty or malformed input.
func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	emb := make([]float32, len(b)/4)
	for i := range emb {
		emb[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return emb
}

// decodeOffsetCursor decodes a base64-encoded "offset:<N>" pagination cursor.
// An empty cursor decodes to offset 0.
func decodeOffsetCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] != "offset" {
		return 0, fmt.Errorf("invalid cursor format")
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid cursor offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("cursor offset must be non-negative")
	}
	return offset, nil
}

func encodeOffsetCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("offset:%d", offset)))
}
