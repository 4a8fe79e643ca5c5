// Package syncer mirrors relational learning records into the vector
// index. The relational store is the source of truth; the vector side
// is rebuildable, so every failure here is logged and skipped rather
// than propagated.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/vector"
	"github.com/hyperjump/chishiki/pkg/utils"
)

// Payload keys written to vector points.
const (
	PayloadRecordID  = "record_id"
	PayloadTitle     = "title"
	PayloadCategory  = "category"
	PayloadTags      = "tags"
	PayloadContent   = "content"
	PayloadCreatedAt = "created_at"
)

// PointID derives the deterministic point ID for a record. The same
// record always maps to the same point, so re-syncing updates in place
// instead of accumulating duplicates.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(recordID)).String()
}

// Engine pushes records into a vector backend using the configured
// embedding provider.
type Engine struct {
	backend  vector.Backend
	provider *embedding.Provider
	logger   *zap.Logger

	// Collections that passed the dimension check this process.
	// Guarded by mu; the engine is shared across request goroutines.
	mu        sync.Mutex
	available map[string]bool

	sanitizeLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSanitizeLimit caps the byte length of text sent to the embedder.
func WithSanitizeLimit(limit int) Option {
	return func(e *Engine) { e.sanitizeLimit = limit }
}

// NewEngine creates a sync engine.
func NewEngine(backend vector.Backend, provider *embedding.Provider, opts ...Option) *Engine {
	e := &Engine{
		backend:       backend,
		provider:      provider,
		logger:        zap.NewNop(),
		available:     make(map[string]bool),
		sanitizeLimit: 8000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureCollection makes sure the collection exists with the provider's
// dimensions and reports whether it is usable. A collection that exists
// with a different dimension is never dropped or recreated; the engine
// marks it unusable and vector sync is skipped until the operator
// resolves the mismatch.
func (e *Engine) EnsureCollection(ctx context.Context, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok, seen := e.available[name]; seen {
		return ok
	}

	size := e.provider.Dimensions()
	info, err := e.backend.CollectionInfo(ctx, name)
	if err != nil {
		if createErr := e.backend.EnsureCollection(ctx, name, size, true); createErr != nil {
			e.logger.Warn("failed to create vector collection",
				zap.String("collection", name), zap.Error(createErr))
			e.available[name] = false
			return false
		}
		e.available[name] = true
		return true
	}

	if info.VectorSize != size {
		e.logger.Warn("vector collection dimension mismatch, skipping vector sync",
			zap.String("collection", name),
			zap.Int("collection_dimensions", info.VectorSize),
			zap.Int("provider_dimensions", size))
		e.available[name] = false
		return false
	}
	e.available[name] = true
	return true
}

// IndexOrUpdate embeds a single record and upserts its point.
func (e *Engine) IndexOrUpdate(ctx context.Context, collection string, record *models.LearningRecord) error {
	if !e.EnsureCollection(ctx, collection) {
		return fmt.Errorf("collection %s is not usable", collection)
	}
	point, err := e.buildPoint(ctx, record)
	if err != nil {
		return err
	}
	if err := e.backend.Upsert(ctx, collection, []vector.Point{point}); err != nil {
		return fmt.Errorf("failed to upsert point for record %s: %w", record.ID, err)
	}
	return nil
}

// SyncAll mirrors all records into the collection in batches and
// returns the number of records synced. Records whose embedding fails
// are skipped with a warning; a failed batch upsert skips that batch.
func (e *Engine) SyncAll(ctx context.Context, collection string, records []*models.LearningRecord, batchSize int) int {
	if !e.EnsureCollection(ctx, collection) {
		return 0
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	synced := 0
	batch := make([]vector.Point, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := e.backend.Upsert(ctx, collection, batch); err != nil {
			e.logger.Warn("failed to upsert batch",
				zap.String("collection", collection),
				zap.Int("batch_size", len(batch)), zap.Error(err))
		} else {
			synced += len(batch)
		}
		batch = batch[:0]
	}

	for _, record := range records {
		point, err := e.buildPoint(ctx, record)
		if err != nil {
			e.logger.Warn("failed to embed record, skipping",
				zap.String("record_id", record.ID), zap.Error(err))
			continue
		}
		batch = append(batch, point)
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()
	return synced
}

// DeleteRecord removes the point for a record, ignoring collections
// that were never usable.
func (e *Engine) DeleteRecord(ctx context.Context, collection, recordID string) error {
	if !e.EnsureCollection(ctx, collection) {
		return nil
	}
	return e.backend.DeletePoints(ctx, collection, []string{PointID(recordID)})
}

func (e *Engine) buildPoint(ctx context.Context, record *models.LearningRecord) (vector.Point, error) {
	text := e.EmbedText(record)
	dense, err := e.provider.EmbedDense(ctx, text)
	if err != nil {
		return vector.Point{}, fmt.Errorf("dense embedding failed: %w", err)
	}
	sparse := e.provider.EmbedSparse(text)

	point := vector.Point{
		ID:    PointID(record.ID),
		Dense: dense,
		Payload: map[string]any{
			PayloadRecordID:  record.ID,
			PayloadTitle:     record.Title,
			PayloadCategory:  record.Category,
			PayloadTags:      record.Tags(),
			PayloadContent:   utils.Truncate(record.Content.SearchText(), 2000),
			PayloadCreatedAt: record.CreatedAt,
		},
	}
	if !sparse.IsZero() {
		point.Sparse = &sparse
	}
	return point, nil
}

// EmbedText assembles the text that represents a record in the vector
// space: title, description, searchable content, and any codified
// improvements, sanitized and capped.
func (e *Engine) EmbedText(record *models.LearningRecord) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(record.Title)
	add(record.Description())
	add(record.Content.SearchText())
	for _, imp := range record.Improvements() {
		if title, ok := imp["title"].(string); ok {
			add(title)
		}
		if desc, ok := imp["description"].(string); ok {
			add(desc)
		}
	}
	return utils.SanitizeForEmbedding(strings.Join(parts, "\n"), e.sanitizeLimit)
}
