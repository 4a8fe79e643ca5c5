package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryBackend is an embedded, in-process vector backend using brute-force
// search. Suitable for single-node use and tests; state can be persisted to
// a JSON file across runs.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	path        string
}

type memCollection struct {
	VectorSize int              `json:"vector_size"`
	Sparse     bool             `json:"sparse"`
	Points     map[string]Point `json:"points"`
}

// NewMemoryBackend creates an empty in-process backend. When path is
// non-empty, existing state is loaded from it and Save persists back to it.
func NewMemoryBackend(path string) (*MemoryBackend, error) {
	b := &MemoryBackend{
		collections: make(map[string]*memCollection),
		path:        path,
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// EnsureCollection creates the collection when missing. An existing
// collection is left untouched regardless of the requested parameters:
// callers detect mismatches via CollectionInfo.
func (b *MemoryBackend) EnsureCollection(ctx context.Context, name string, vectorSize int, enableSparse bool) error {
	if vectorSize <= 0 {
		return fmt.Errorf("vector size must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; ok {
		return nil
	}
	b.collections[name] = &memCollection{
		VectorSize: vectorSize,
		Sparse:     enableSparse,
		Points:     make(map[string]Point),
	}
	return nil
}

// CollectionInfo returns size/capability info for an existing collection.
func (b *MemoryBackend) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	coll, ok := b.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection not found: %s", name)
	}
	return &CollectionInfo{
		VectorSize: coll.VectorSize,
		Sparse:     coll.Sparse,
		Points:     len(coll.Points),
	}, nil
}

// Upsert inserts or replaces points by id. Dense vectors must match the
// collection's declared size.
func (b *MemoryBackend) Upsert(ctx context.Context, collection string, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	coll, ok := b.collections[collection]
	if !ok {
		return fmt.Errorf("collection not found: %s", collection)
	}
	for _, p := range points {
		if len(p.Dense) != coll.VectorSize {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(p.Dense), coll.VectorSize)
		}
		dense := make([]float32, len(p.Dense))
		copy(dense, p.Dense)
		p.Dense = dense
		coll.Points[p.ID] = p
	}
	return nil
}

// DeletePoints removes points by id. Missing ids are ignored.
func (b *MemoryBackend) DeletePoints(ctx context.Context, collection string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	coll, ok := b.collections[collection]
	if !ok {
		return fmt.Errorf("collection not found: %s", collection)
	}
	for _, id := range ids {
		delete(coll.Points, id)
	}
	return nil
}

// Query returns the top-k points by similarity in the requested vector
// space (inner product for dense, dot product for sparse).
func (b *MemoryBackend) Query(ctx context.Context, collection string, req QueryRequest) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	coll, ok := b.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection not found: %s", collection)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	var hits []Hit
	switch req.Using {
	case UsingDense:
		if len(req.Dense) != coll.VectorSize {
			return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(req.Dense), coll.VectorSize)
		}
		for _, p := range coll.Points {
			if !matchesFilter(p.Payload, req.Filter) {
				continue
			}
			hits = append(hits, Hit{ID: p.ID, Score: dot(req.Dense, p.Dense), Payload: p.Payload})
		}
	case UsingSparse:
		if req.Sparse == nil {
			return nil, fmt.Errorf("sparse query vector required")
		}
		for _, p := range coll.Points {
			if p.Sparse == nil || !matchesFilter(p.Payload, req.Filter) {
				continue
			}
			// Points with no term overlap are not matches.
			score := sparseDot(*req.Sparse, *p.Sparse)
			if score == 0 {
				continue
			}
			hits = append(hits, Hit{ID: p.ID, Score: score, Payload: p.Payload})
		}
	default:
		return nil, fmt.Errorf("unknown vector name: %q", req.Using)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Save persists all collections to the configured path.
func (b *MemoryBackend) Save() error {
	if b.path == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	data, err := json.Marshal(b.collections)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0600); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	return nil
}

// load reads persisted state. A missing file leaves the backend empty.
func (b *MemoryBackend) load() error {
	if b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index file: %w", err)
	}
	var collections map[string]*memCollection
	if err := json.Unmarshal(data, &collections); err != nil {
		return fmt.Errorf("parse index file: %w", err)
	}
	for _, coll := range collections {
		if coll.Points == nil {
			coll.Points = make(map[string]Point)
		}
	}
	b.collections = collections
	return nil
}

// Close persists state when a path is configured.
func (b *MemoryBackend) Close() error {
	return b.Save()
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i] * b[i])
	}
	return sum
}

// sparseDot computes the dot product of two index-sorted sparse vectors.
func sparseDot(a, b SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += float64(a.Values[i] * b.Values[j])
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}
