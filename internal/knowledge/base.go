// Package knowledge wires the persistence, embedding, sync, retrieval,
// codebase, and gardening components into one façade.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/codebase"
	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/gardening"
	"github.com/hyperjump/chishiki/internal/lock"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/retrieval"
	"github.com/hyperjump/chishiki/internal/store"
	"github.com/hyperjump/chishiki/internal/syncer"
	"github.com/hyperjump/chishiki/internal/vector"
)

const lockTimeout = 10 * time.Second

// Base is the entry point for all knowledge operations. Collections
// are scoped per project so multiple codebases can share one backend.
type Base struct {
	cfg      *config.Config
	store    store.Store
	backend  vector.Backend
	registry *embedding.Registry
	provider *embedding.Provider
	sync     *syncer.Engine
	search   *retrieval.Engine
	code     *codebase.Indexer
	gardener *gardening.Service
	locks    *lock.Manager
	logger   *zap.Logger

	learningsCollection string
	codebaseCollection  string
	projectRoot         string
}

// Option configures a Base.
type Option func(*baseOptions)

type baseOptions struct {
	logger     *zap.Logger
	completion gardening.CompletionService
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(o *baseOptions) { o.logger = logger }
}

// WithCompletion enables fact extraction during gardening.
func WithCompletion(c gardening.CompletionService) Option {
	return func(o *baseOptions) { o.completion = c }
}

// New builds a knowledge base from configuration. projectRoot scopes
// the vector collections; different projects get disjoint collections
// in the same backend.
func New(cfg *config.Config, projectRoot string, opts ...Option) (*Base, error) {
	options := baseOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger

	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	suffix := projectHash(absRoot)

	st, err := store.NewSQLite(cfg.Storage.DatabasePath, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := embedding.NewRegistry()
	provider, err := embedding.NewProvider(embedding.ProviderOptions{
		Kind:       cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKeyEnv:  cfg.Embedding.APIKeyEnv,
		Dimensions: cfg.Embedding.Dimensions,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}, registry, embedding.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("build embedding provider: %w", err)
	}

	locks, err := lock.NewManager(cfg.Storage.KnowledgeDir)
	if err != nil {
		_ = st.Close()
		_ = backend.Close()
		return nil, err
	}

	sync := syncer.NewEngine(backend, provider,
		syncer.WithLogger(logger),
		syncer.WithSanitizeLimit(cfg.Sync.SanitizeLimit))

	search := retrieval.NewEngine(st, backend, provider,
		retrieval.WithLogger(logger),
		retrieval.WithDefaultLimit(cfg.Retrieval.DefaultLimit),
		retrieval.WithRRFK(cfg.Retrieval.RRFK))

	code := codebase.NewIndexer(st, backend, provider,
		codebase.WithLogger(logger),
		codebase.WithExtensions(cfg.Codebase.Extensions),
		codebase.WithChunking(cfg.Codebase.ChunkSize, cfg.Codebase.ChunkOverlap),
		codebase.WithMaxFileBytes(cfg.Codebase.MaxFileBytes),
		codebase.WithRRFK(cfg.Retrieval.RRFK))

	wr, wi, wp := cfg.Gardening.NormalizedWeights()
	scorer := gardening.NewScorer(cfg.Gardening.RetentionDays, wr, wi, wp,
		cfg.Gardening.HighStakesCategories)
	gardenOpts := []gardening.Option{
		gardening.WithLogger(logger),
		gardening.WithDedupeThreshold(cfg.Gardening.DedupeThreshold),
		gardening.WithExtractionMinScore(cfg.Gardening.ExtractionMinScore),
		gardening.WithMaxWorkers(cfg.Gardening.MaxWorkers),
	}
	if options.completion != nil {
		gardenOpts = append(gardenOpts, gardening.WithCompletion(options.completion))
	}
	gardener := gardening.NewService(st, sync, backend, provider, scorer, gardenOpts...)

	b := &Base{
		cfg:                 cfg,
		store:               st,
		backend:             backend,
		registry:            registry,
		provider:            provider,
		sync:                sync,
		search:              search,
		code:                code,
		gardener:            gardener,
		locks:               locks,
		logger:              logger,
		learningsCollection: "learnings_" + suffix,
		codebaseCollection:  "codebase_" + suffix,
		projectRoot:         absRoot,
	}
	b.backfill(context.Background())
	return b, nil
}

func newBackend(cfg *config.Config) (vector.Backend, error) {
	if cfg.Vector.URL != "" {
		timeout := time.Duration(cfg.Vector.TimeoutSeconds) * time.Second
		backend, err := vector.NewHTTPBackend(cfg.Vector.URL, timeout)
		if err != nil {
			return nil, fmt.Errorf("connect vector backend: %w", err)
		}
		return backend, nil
	}
	backend, err := vector.NewMemoryBackend(cfg.Storage.VectorIndexPath)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	return backend, nil
}

// projectHash scopes collection names to a project root.
func projectHash(absRoot string) string {
	sum := sha256.Sum256([]byte(absRoot))
	return hex.EncodeToString(sum[:])[:12]
}

// backfill resyncs every record into the vector backend when the
// collection is empty but the store is not, e.g. after switching
// backends or deleting the index file.
func (b *Base) backfill(ctx context.Context) {
	count, err := b.store.Count(ctx)
	if err != nil || count == 0 {
		return
	}
	info, err := b.backend.CollectionInfo(ctx, b.learningsCollection)
	if err == nil && info.Points > 0 {
		return
	}
	synced := b.sync.SyncAll(ctx, b.learningsCollection, b.store.GetAll(ctx), b.cfg.Sync.BatchSize)
	if synced > 0 {
		b.logger.Info("backfilled vector index from store",
			zap.Int("records", synced),
			zap.String("collection", b.learningsCollection))
	}
}

// Save persists a record and mirrors it into the vector index. The
// relational write is fatal on error; the vector write is best-effort.
// Returns the record id, generating one if absent.
func (b *Base) Save(ctx context.Context, record *models.LearningRecord, silent bool) (string, error) {
	record.EnsureDefaults(time.Now())

	release, err := b.locks.Acquire(ctx, lock.NameKB, lockTimeout)
	if err != nil {
		return "", err
	}
	defer release()

	if err := b.store.Upsert(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save record: %w", err)
	}
	if err := b.sync.IndexOrUpdate(ctx, b.learningsCollection, record); err != nil {
		b.logger.Warn("record saved but vector indexing failed",
			zap.String("record_id", record.ID), zap.Error(err))
	}
	if !silent {
		b.logger.Info("saved learning record",
			zap.String("record_id", record.ID),
			zap.String("category", record.Category))
	}
	return record.ID, nil
}

// Retrieve returns records relevant to query.
func (b *Base) Retrieve(ctx context.Context, query string, tags []string, limit int) []*models.LearningRecord {
	return b.search.Retrieve(ctx, b.learningsCollection, query, tags, limit)
}

// Garden runs the maintenance passes under the codify lock.
func (b *Base) Garden(ctx context.Context, opts gardening.Options) (models.GardenReport, error) {
	release, err := b.locks.Acquire(ctx, lock.NameCodify, lockTimeout)
	if err != nil {
		return models.GardenReport{}, err
	}
	defer release()
	return b.gardener.Garden(ctx, b.learningsCollection, opts)
}

// SyncAll mirrors every stored record into the vector index.
func (b *Base) SyncAll(ctx context.Context) int {
	return b.sync.SyncAll(ctx, b.learningsCollection, b.store.GetAll(ctx), b.cfg.Sync.BatchSize)
}

// IndexCodebase indexes the project tree rooted at root, defaulting to
// the project root.
func (b *Base) IndexCodebase(ctx context.Context, root string, force bool) (codebase.Stats, error) {
	if root == "" {
		root = b.projectRoot
	}
	return b.code.IndexCodebase(ctx, b.codebaseCollection, root, force)
}

// SearchCodebase searches indexed code chunks.
func (b *Base) SearchCodebase(ctx context.Context, query string, limit int) ([]codebase.Hit, error) {
	return b.code.SearchCodebase(ctx, b.codebaseCollection, query, limit)
}

// NewWatcher returns a watcher that keeps the codebase collection in
// sync with the project tree.
func (b *Base) NewWatcher(opts ...codebase.WatcherOption) *codebase.Watcher {
	opts = append([]codebase.WatcherOption{codebase.WithWatcherLogger(b.logger)}, opts...)
	return codebase.NewWatcher(b.code, b.codebaseCollection, b.projectRoot, opts...)
}

// Count returns the number of stored records.
func (b *Base) Count(ctx context.Context) (int64, error) {
	return b.store.Count(ctx)
}

// Get returns one record by id.
func (b *Base) Get(ctx context.Context, id string) (*models.LearningRecord, error) {
	return b.store.Get(ctx, id)
}

// Close releases all resources. The memory vector backend persists its
// state on close.
func (b *Base) Close() error {
	var firstErr error
	for _, c := range []func() error{b.backend.Close, b.store.Close, b.registry.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
