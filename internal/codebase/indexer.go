package codebase

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/retrieval"
	"github.com/hyperjump/chishiki/internal/store"
	"github.com/hyperjump/chishiki/internal/syncer"
	"github.com/hyperjump/chishiki/internal/vector"
)

// Payload keys for codebase points.
const (
	PayloadFilePath   = "file_path"
	PayloadChunkIndex = "chunk_index"
	PayloadContent    = "content"
)

// Directories never worth indexing.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Stats summarizes one indexing run.
type Stats struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	ChunksIndexed int
	ChunksDeleted int
}

// Hit is one codebase search result.
type Hit struct {
	FilePath   string
	ChunkIndex int
	Content    string
	Score      float64
}

// Indexer chunks and embeds source files into a vector collection,
// tracking per-file state in the store so unchanged files are skipped.
type Indexer struct {
	store    store.Store
	backend  vector.Backend
	provider *embedding.Provider
	chunker  *Chunker
	logger   *zap.Logger

	extensions   map[string]bool
	maxFileBytes int64
	rrfK         int

	// Guarded by mu; watcher debounce timers index files concurrently.
	mu        sync.Mutex
	available map[string]bool
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the indexer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Indexer) { i.logger = logger }
}

// WithExtensions restricts indexing to the given file extensions,
// with or without leading dots.
func WithExtensions(exts []string) Option {
	return func(i *Indexer) {
		i.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			i.extensions["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
		}
	}
}

// WithChunking sets the chunk window size and overlap in words.
func WithChunking(size, overlap int) Option {
	return func(i *Indexer) { i.chunker = NewChunker(size, overlap) }
}

// WithMaxFileBytes skips files larger than the given size.
func WithMaxFileBytes(n int64) Option {
	return func(i *Indexer) {
		if n > 0 {
			i.maxFileBytes = n
		}
	}
}

// WithRRFK sets the rank fusion constant for SearchCodebase.
func WithRRFK(k int) Option {
	return func(i *Indexer) {
		if k > 0 {
			i.rrfK = k
		}
	}
}

// NewIndexer creates a codebase indexer.
func NewIndexer(s store.Store, backend vector.Backend, provider *embedding.Provider, opts ...Option) *Indexer {
	idx := &Indexer{
		store:        s,
		backend:      backend,
		provider:     provider,
		chunker:      NewChunker(200, 50),
		logger:       zap.NewNop(),
		maxFileBytes: 1 << 20,
		rrfK:         60,
		available:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexCodebase walks root and indexes every eligible source file into
// collection. Files unchanged since their last indexing are skipped
// unless force is set. Per-file failures are logged and counted, not
// fatal.
func (idx *Indexer) IndexCodebase(ctx context.Context, collection, root string, force bool) (Stats, error) {
	var stats Stats

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return stats, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return stats, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("not a directory: %s", absRoot)
	}
	if !idx.ensureCollection(ctx, collection) {
		return stats, fmt.Errorf("collection %s is not usable", collection)
	}

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && path != absRoot) {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.eligible(path) {
			return nil
		}
		fileStats, err := idx.IndexFile(ctx, collection, path, force)
		if err != nil {
			idx.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
			stats.FilesFailed++
			return nil
		}
		stats.FilesIndexed += fileStats.FilesIndexed
		stats.FilesSkipped += fileStats.FilesSkipped
		stats.ChunksIndexed += fileStats.ChunksIndexed
		stats.ChunksDeleted += fileStats.ChunksDeleted
		return nil
	})
	return stats, walkErr
}

// IndexFile indexes one file, skipping it when mtime and size are
// unchanged. When a file shrinks, chunk points beyond the new count are
// deleted so no stale content lingers in the index.
func (idx *Indexer) IndexFile(ctx context.Context, collection, path string, force bool) (Stats, error) {
	var stats Stats

	absPath, err := filepath.Abs(path)
	if err != nil {
		return stats, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return stats, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return stats, fmt.Errorf("not a regular file: %s", absPath)
	}
	if info.Size() > idx.maxFileBytes {
		stats.FilesSkipped++
		return stats, nil
	}

	prev, err := idx.store.GetCodebaseFile(ctx, absPath)
	if err != nil {
		return stats, fmt.Errorf("load file state: %w", err)
	}
	if !force && prev != nil && prev.MtimeNanos == info.ModTime().UnixNano() && prev.Size == info.Size() {
		stats.FilesSkipped++
		return stats, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return stats, fmt.Errorf("read file: %w", err)
	}
	if !idx.ensureCollection(ctx, collection) {
		return stats, fmt.Errorf("collection %s is not usable", collection)
	}

	chunks := idx.chunker.Chunk(string(content))
	points := make([]vector.Point, 0, len(chunks))
	for _, chunk := range chunks {
		dense, err := idx.provider.EmbedDense(ctx, chunk.Text)
		if err != nil {
			return stats, fmt.Errorf("embed chunk %d: %w", chunk.Index, err)
		}
		point := vector.Point{
			ID:    chunkPointID(absPath, chunk.Index),
			Dense: dense,
			Payload: map[string]any{
				PayloadFilePath:   absPath,
				PayloadChunkIndex: chunk.Index,
				PayloadContent:    chunk.Text,
			},
		}
		if sparse := idx.provider.EmbedSparse(chunk.Text); !sparse.IsZero() {
			point.Sparse = &sparse
		}
		points = append(points, point)
	}

	if len(points) > 0 {
		if err := idx.backend.Upsert(ctx, collection, points); err != nil {
			return stats, fmt.Errorf("upsert chunks: %w", err)
		}
	}

	// Chunk IDs are positional, so a shrunken file leaves stale points
	// at the tail indices. Delete them explicitly.
	if prev != nil && prev.ChunkCount > len(chunks) {
		stale := make([]string, 0, prev.ChunkCount-len(chunks))
		for i := len(chunks); i < prev.ChunkCount; i++ {
			stale = append(stale, chunkPointID(absPath, i))
		}
		if err := idx.backend.DeletePoints(ctx, collection, stale); err != nil {
			return stats, fmt.Errorf("delete stale chunks: %w", err)
		}
		stats.ChunksDeleted = len(stale)
	}

	state := &store.CodebaseFile{
		Path:       absPath,
		MtimeNanos: info.ModTime().UnixNano(),
		Size:       info.Size(),
		ChunkCount: len(chunks),
	}
	if err := idx.store.PutCodebaseFile(ctx, state); err != nil {
		return stats, fmt.Errorf("save file state: %w", err)
	}

	stats.FilesIndexed++
	stats.ChunksIndexed = len(points)
	idx.logger.Debug("indexed file",
		zap.String("path", absPath), zap.Int("chunks", len(points)))
	return stats, nil
}

// SearchCodebase runs a hybrid query over indexed code chunks.
func (idx *Indexer) SearchCodebase(ctx context.Context, collection, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	dense, err := idx.provider.EmbedDense(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	denseHits, err := idx.backend.Query(ctx, collection, vector.QueryRequest{
		Using: vector.UsingDense,
		Dense: dense,
		Limit: limit * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("dense query: %w", err)
	}

	lists := [][]vector.Hit{denseHits}
	if sparse := idx.provider.EmbedSparse(query); !sparse.IsZero() {
		sparseHits, err := idx.backend.Query(ctx, collection, vector.QueryRequest{
			Using:  vector.UsingSparse,
			Sparse: &sparse,
			Limit:  limit * 2,
		})
		if err != nil {
			return nil, fmt.Errorf("sparse query: %w", err)
		}
		lists = append(lists, sparseHits)
	}

	fused := retrieval.RRF(lists, idx.rrfK)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	hits := make([]Hit, 0, len(fused))
	for _, h := range fused {
		hit := Hit{Score: h.Score}
		hit.FilePath, _ = h.Payload[PayloadFilePath].(string)
		hit.Content, _ = h.Payload[PayloadContent].(string)
		switch v := h.Payload[PayloadChunkIndex].(type) {
		case int:
			hit.ChunkIndex = v
		case float64:
			hit.ChunkIndex = int(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// RemoveFile deletes all chunk points for a file and resets its state.
func (idx *Indexer) RemoveFile(ctx context.Context, collection, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	prev, err := idx.store.GetCodebaseFile(ctx, absPath)
	if err != nil || prev == nil || prev.ChunkCount == 0 {
		return err
	}
	ids := make([]string, 0, prev.ChunkCount)
	for i := 0; i < prev.ChunkCount; i++ {
		ids = append(ids, chunkPointID(absPath, i))
	}
	if err := idx.backend.DeletePoints(ctx, collection, ids); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	prev.ChunkCount = 0
	prev.MtimeNanos = 0
	prev.Size = 0
	return idx.store.PutCodebaseFile(ctx, prev)
}

func (idx *Indexer) eligible(path string) bool {
	if len(idx.extensions) == 0 {
		return true
	}
	return idx.extensions[strings.ToLower(filepath.Ext(path))]
}

func (idx *Indexer) ensureCollection(ctx context.Context, name string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ok, seen := idx.available[name]; seen {
		return ok
	}
	size := idx.provider.Dimensions()
	info, err := idx.backend.CollectionInfo(ctx, name)
	if err != nil {
		if createErr := idx.backend.EnsureCollection(ctx, name, size, true); createErr != nil {
			idx.logger.Warn("failed to create codebase collection",
				zap.String("collection", name), zap.Error(createErr))
			idx.available[name] = false
			return false
		}
		idx.available[name] = true
		return true
	}
	if info.VectorSize != size {
		idx.logger.Warn("codebase collection dimension mismatch",
			zap.String("collection", name),
			zap.Int("collection_dimensions", info.VectorSize),
			zap.Int("provider_dimensions", size))
		idx.available[name] = false
		return false
	}
	idx.available[name] = true
	return true
}

// chunkPointID derives the deterministic point ID for one chunk of a
// file, so re-indexing overwrites points in place.
func chunkPointID(path string, index int) string {
	return syncer.PointID(path + "#" + strconv.Itoa(index))
}
