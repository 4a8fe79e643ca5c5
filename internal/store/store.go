// Package store provides the durable relational source of truth for
// learning records and codebase indexing state.
package store

import (
	"context"

	"github.com/hyperjump/chishiki/internal/models"
)

// CodebaseFile is the indexing state of one source file: used to skip
// unchanged files and to clean up stale chunks when a file shrinks.
type CodebaseFile struct {
	Path       string
	MtimeNanos int64
	Size       int64
	ChunkCount int
}

// Store is the relational source of truth. Writes are atomic and fatal on
// failure; reads degrade to empty results on I/O errors (no data yet).
type Store interface {
	// Upsert atomically inserts or replaces a record by id.
	Upsert(ctx context.Context, rec *models.LearningRecord) error

	// Get returns one record by id, or an error when absent.
	Get(ctx context.Context, id string) (*models.LearningRecord, error)

	// GetAll returns every record, newest first. Read errors yield an
	// empty slice, never a failure.
	GetAll(ctx context.Context) []*models.LearningRecord

	// SearchLocal performs case-insensitive substring matching over
	// title/content/category plus manual tag/category filtering. This is
	// the O(n) fallback path, not the primary query path.
	SearchLocal(ctx context.Context, query string, tags []string, limit int) []*models.LearningRecord

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// GetCodebaseFile returns indexing state for a source file, or nil when
	// the file has never been indexed.
	GetCodebaseFile(ctx context.Context, path string) (*CodebaseFile, error)

	// PutCodebaseFile records indexing state for a source file.
	PutCodebaseFile(ctx context.Context, f *CodebaseFile) error

	// Close closes the underlying database.
	Close() error
}
