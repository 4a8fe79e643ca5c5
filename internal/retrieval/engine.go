// Package retrieval answers knowledge queries with hybrid vector
// search, falling back to the relational store when the vector side is
// unavailable.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/store"
	"github.com/hyperjump/chishiki/internal/syncer"
	"github.com/hyperjump/chishiki/internal/vector"
)

// Engine retrieves learning records for a query.
type Engine struct {
	store    store.Store
	backend  vector.Backend
	provider *embedding.Provider
	logger   *zap.Logger

	defaultLimit int
	rrfK         int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDefaultLimit sets the result count used when callers pass no limit.
func WithDefaultLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.defaultLimit = limit
		}
	}
}

// WithRRFK sets the reciprocal rank fusion constant.
func WithRRFK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.rrfK = k
		}
	}
}

// NewEngine creates a retrieval engine. backend may be nil, in which
// case every query uses the relational fallback.
func NewEngine(s store.Store, backend vector.Backend, provider *embedding.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		backend:      backend,
		provider:     provider,
		logger:       zap.NewNop(),
		defaultLimit: 5,
		rrfK:         60,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns up to limit records relevant to query, optionally
// narrowed by tags. An empty query with no tags returns the most recent
// records. Vector search failures degrade to a relational substring
// search, never to an error.
func (e *Engine) Retrieve(ctx context.Context, collection, query string, tags []string, limit int) []*models.LearningRecord {
	if limit <= 0 {
		limit = e.defaultLimit
	}

	if query == "" && len(tags) == 0 {
		records := e.store.GetAll(ctx)
		if len(records) > limit {
			records = records[:limit]
		}
		return records
	}
	if query == "" || e.backend == nil {
		return e.store.SearchLocal(ctx, query, tags, limit)
	}

	records, err := e.vectorSearch(ctx, collection, query, tags, limit)
	if err != nil {
		e.logger.Warn("vector search failed, falling back to local search",
			zap.String("collection", collection), zap.Error(err))
		return e.store.SearchLocal(ctx, query, tags, limit)
	}
	return records
}

// vectorSearch runs dense and sparse queries, fuses them with RRF, and
// resolves the fused hits back to full records from the store.
func (e *Engine) vectorSearch(ctx context.Context, collection, query string, tags []string, limit int) ([]*models.LearningRecord, error) {
	dense, err := e.provider.EmbedDense(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := tagFilter(tags)
	fetch := limit * 2

	denseHits, err := e.backend.Query(ctx, collection, vector.QueryRequest{
		Using:  vector.UsingDense,
		Dense:  dense,
		Filter: filter,
		Limit:  fetch,
	})
	if err != nil {
		return nil, err
	}

	lists := [][]vector.Hit{denseHits}
	if sparse := e.provider.EmbedSparse(query); !sparse.IsZero() {
		sparseHits, err := e.backend.Query(ctx, collection, vector.QueryRequest{
			Using:  vector.UsingSparse,
			Sparse: &sparse,
			Filter: filter,
			Limit:  fetch,
		})
		if err != nil {
			return nil, err
		}
		lists = append(lists, sparseHits)
	}

	fused := RRF(lists, e.rrfK)

	records := make([]*models.LearningRecord, 0, limit)
	for _, hit := range fused {
		if len(records) >= limit {
			break
		}
		id, _ := hit.Payload[syncer.PayloadRecordID].(string)
		if id == "" {
			continue
		}
		record, err := e.store.Get(ctx, id)
		if err != nil || record == nil {
			// Stale point whose record was removed from the store.
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// tagFilter builds a should-match filter over both the tags and the
// category payload fields, so a tag can select records categorized
// under it as well as records tagged with it.
func tagFilter(tags []string) *vector.Filter {
	if len(tags) == 0 {
		return nil
	}
	matches := make([]vector.Match, 0, len(tags)*2)
	for _, tag := range tags {
		matches = append(matches,
			vector.Match{Key: syncer.PayloadTags, Value: tag},
			vector.Match{Key: syncer.PayloadCategory, Value: tag},
		)
	}
	return &vector.Filter{Should: matches}
}
