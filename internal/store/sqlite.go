// Package store provides the SQLite implementation of the Store interface.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/models"
)

// SQLite implements Store using a local SQLite database in WAL mode.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// Option configures a SQLite store.
type Option func(*SQLite)

// WithLogger sets a logger for degraded-read warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLite) { s.logger = l }
}

// NewSQLite opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewSQLite(dbPath string, opts ...Option) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s := &SQLite{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS learnings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		source TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_learnings_created_at ON learnings(created_at);

	CREATE TABLE IF NOT EXISTS codebase_files (
		path TEXT PRIMARY KEY,
		mtime_ns INTEGER NOT NULL,
		size INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		updated_at TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert atomically inserts or replaces a record by id. Write errors are
// fatal to the caller: this table is the system's only durability guarantee.
func (s *SQLite) Upsert(ctx context.Context, rec *models.LearningRecord) error {
	rec.UpdatedAt = time.Now()
	row, err := models.SplitRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO learnings
		 (id, title, category, content, metadata, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Title, row.Category, row.Content, row.Metadata, row.Source,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one record by id.
func (s *SQLite) Get(ctx context.Context, id string) (*models.LearningRecord, error) {
	var row models.Row
	var metadata, source sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, category, content, metadata, source, created_at, updated_at
		 FROM learnings WHERE id = ?`, id,
	).Scan(&row.ID, &row.Title, &row.Category, &row.Content, &metadata, &source,
		&row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	row.Metadata = metadata.String
	row.Source = source.String
	return models.MergeRow(row), nil
}

// GetAll returns every record, newest first. Read errors are logged and
// yield an empty slice: an unreadable store means "no data yet", not a
// fatal condition.
func (s *SQLite) GetAll(ctx context.Context) []*models.LearningRecord {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, category, content, metadata, source, created_at, updated_at
		 FROM learnings ORDER BY created_at DESC`)
	if err != nil {
		s.logger.Warn("failed to read learnings", zap.Error(err))
		return nil
	}
	defer rows.Close()
	return s.scanRecords(rows)
}

// SearchLocal performs case-insensitive substring matching over
// title/content/category, then filters by tags/category manually (tags live
// in the metadata blob and are not indexed).
func (s *SQLite) SearchLocal(ctx context.Context, query string, tags []string, limit int) []*models.LearningRecord {
	sqlQuery := `SELECT id, title, category, content, metadata, source, created_at, updated_at
		 FROM learnings WHERE 1=1`
	var params []any
	if query != "" {
		sqlQuery += ` AND (title LIKE ? OR content LIKE ? OR category LIKE ?)`
		wildcard := "%" + query + "%"
		params = append(params, wildcard, wildcard, wildcard)
	}
	sqlQuery += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		s.logger.Warn("local search failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var results []*models.LearningRecord
	for _, rec := range s.scanRecords(rows) {
		if len(tags) > 0 && !matchesTags(rec, tags) {
			continue
		}
		results = append(results, rec)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// matchesTags reports whether any query tag matches the record's tags or
// category, case-insensitively.
func matchesTags(rec *models.LearningRecord, tags []string) bool {
	have := rec.Tags()
	have = append(have, rec.Category)
	for _, want := range tags {
		for _, t := range have {
			if strings.EqualFold(t, want) {
				return true
			}
		}
	}
	return false
}

func (s *SQLite) scanRecords(rows *sql.Rows) []*models.LearningRecord {
	var records []*models.LearningRecord
	for rows.Next() {
		var row models.Row
		var metadata, source sql.NullString
		if err := rows.Scan(&row.ID, &row.Title, &row.Category, &row.Content,
			&metadata, &source, &row.CreatedAt, &row.UpdatedAt); err != nil {
			s.logger.Warn("failed to scan record", zap.Error(err))
			continue
		}
		row.Metadata = metadata.String
		row.Source = source.String
		records = append(records, models.MergeRow(row))
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("record iteration failed", zap.Error(err))
	}
	return records
}

// Count returns the number of stored records.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM learnings`).Scan(&count)
	return count, err
}

// GetCodebaseFile returns indexing state for a source file, or nil when the
// file has never been indexed.
func (s *SQLite) GetCodebaseFile(ctx context.Context, path string) (*CodebaseFile, error) {
	var f CodebaseFile
	err := s.db.QueryRowContext(ctx,
		`SELECT path, mtime_ns, size, chunk_count FROM codebase_files WHERE path = ?`, path,
	).Scan(&f.Path, &f.MtimeNanos, &f.Size, &f.ChunkCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// PutCodebaseFile records indexing state for a source file.
func (s *SQLite) PutCodebaseFile(ctx context.Context, f *CodebaseFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO codebase_files (path, mtime_ns, size, chunk_count, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		f.Path, f.MtimeNanos, f.Size, f.ChunkCount, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write codebase file state: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
