package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryBackend_ensureCollectionIdempotent(t *testing.T) {
	b, err := NewMemoryBackend("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := b.EnsureCollection(ctx, "c", 4, true); err != nil {
		t.Fatal(err)
	}
	// Second call with a different size must not touch the collection.
	if err := b.EnsureCollection(ctx, "c", 8, false); err != nil {
		t.Fatal(err)
	}
	info, err := b.CollectionInfo(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if info.VectorSize != 4 || !info.Sparse {
		t.Errorf("existing collection was modified: %+v", info)
	}
}

func TestMemoryBackend_upsertReplacesByID(t *testing.T) {
	b, _ := NewMemoryBackend("")
	ctx := context.Background()
	_ = b.EnsureCollection(ctx, "c", 2, false)

	p := Point{ID: "p1", Dense: []float32{1, 0}, Payload: map[string]any{"v": "one"}}
	if err := b.Upsert(ctx, "c", []Point{p}); err != nil {
		t.Fatal(err)
	}
	p.Payload = map[string]any{"v": "two"}
	if err := b.Upsert(ctx, "c", []Point{p}); err != nil {
		t.Fatal(err)
	}
	info, _ := b.CollectionInfo(ctx, "c")
	if info.Points != 1 {
		t.Errorf("re-upserting the same id should not duplicate: %d points", info.Points)
	}
	hits, err := b.Query(ctx, "c", QueryRequest{Dense: []float32{1, 0}, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Payload["v"] != "two" {
		t.Errorf("payload should be replaced: %v", hits[0].Payload)
	}
}

func TestMemoryBackend_dimensionChecks(t *testing.T) {
	b, _ := NewMemoryBackend("")
	ctx := context.Background()
	_ = b.EnsureCollection(ctx, "c", 3, false)

	if err := b.Upsert(ctx, "c", []Point{{ID: "x", Dense: []float32{1, 2}}}); err == nil {
		t.Error("expected upsert dimension error")
	}
	if _, err := b.Query(ctx, "c", QueryRequest{Dense: []float32{1, 2}}); err == nil {
		t.Error("expected query dimension error")
	}
}

func TestMemoryBackend_queryRanksAndFilters(t *testing.T) {
	b, _ := NewMemoryBackend("")
	ctx := context.Background()
	_ = b.EnsureCollection(ctx, "c", 2, true)

	points := []Point{
		{ID: "a", Dense: []float32{1, 0}, Payload: map[string]any{"category": "security"}},
		{ID: "b", Dense: []float32{0.9, 0.1}, Payload: map[string]any{"category": "general"}},
		{ID: "c", Dense: []float32{0, 1}, Payload: map[string]any{"tags": []string{"db", "sqlite"}}},
	}
	if err := b.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}

	hits, err := b.Query(ctx, "c", QueryRequest{Dense: []float32{1, 0}, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "b" {
		t.Errorf("ranking wrong: %+v", hits)
	}

	filtered, err := b.Query(ctx, "c", QueryRequest{
		Dense:  []float32{1, 0},
		Filter: &Filter{Should: []Match{{Key: "category", Value: "security"}}},
		Limit:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "a" {
		t.Errorf("filter wrong: %+v", filtered)
	}

	tagged, err := b.Query(ctx, "c", QueryRequest{
		Dense:  []float32{1, 0},
		Filter: &Filter{Should: []Match{{Key: "tags", Value: "sqlite"}}},
		Limit:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 1 || tagged[0].ID != "c" {
		t.Errorf("tag filter wrong: %+v", tagged)
	}
}

func TestMemoryBackend_sparseQuery(t *testing.T) {
	b, _ := NewMemoryBackend("")
	ctx := context.Background()
	_ = b.EnsureCollection(ctx, "c", 2, true)

	points := []Point{
		{ID: "a", Dense: []float32{1, 0}, Sparse: &SparseVector{Indices: []uint32{1, 5}, Values: []float32{1, 2}}},
		{ID: "b", Dense: []float32{0, 1}, Sparse: &SparseVector{Indices: []uint32{5, 9}, Values: []float32{3, 1}}},
	}
	if err := b.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}
	hits, err := b.Query(ctx, "c", QueryRequest{
		Using:  UsingSparse,
		Sparse: &SparseVector{Indices: []uint32{5}, Values: []float32{1}},
		Limit:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "b" {
		t.Errorf("sparse ranking wrong: %+v", hits)
	}
}

func TestMemoryBackend_deletePoints(t *testing.T) {
	b, _ := NewMemoryBackend("")
	ctx := context.Background()
	_ = b.EnsureCollection(ctx, "c", 2, false)
	_ = b.Upsert(ctx, "c", []Point{
		{ID: "a", Dense: []float32{1, 0}},
		{ID: "b", Dense: []float32{0, 1}},
	})
	if err := b.DeletePoints(ctx, "c", []string{"a", "missing"}); err != nil {
		t.Fatal(err)
	}
	info, _ := b.CollectionInfo(ctx, "c")
	if info.Points != 1 {
		t.Errorf("expected 1 point after delete, got %d", info.Points)
	}
}

func TestMemoryBackend_saveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")
	b, err := NewMemoryBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = b.EnsureCollection(ctx, "c", 2, true)
	_ = b.Upsert(ctx, "c", []Point{
		{ID: "a", Dense: []float32{1, 0}, Sparse: &SparseVector{Indices: []uint32{3}, Values: []float32{1}},
			Payload: map[string]any{"title": "t"}},
	})
	if err := b.Save(); err != nil {
		t.Fatal(err)
	}

	b2, err := NewMemoryBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	info, err := b2.CollectionInfo(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if info.VectorSize != 2 || info.Points != 1 || !info.Sparse {
		t.Errorf("reloaded state wrong: %+v", info)
	}
	hits, err := b2.Query(ctx, "c", QueryRequest{Dense: []float32{1, 0}, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Payload["title"] != "t" {
		t.Errorf("payload lost on reload: %+v", hits)
	}
}

func TestSparseDot(t *testing.T) {
	a := SparseVector{Indices: []uint32{1, 3, 7}, Values: []float32{1, 2, 3}}
	b := SparseVector{Indices: []uint32{3, 7, 9}, Values: []float32{4, 5, 6}}
	got := sparseDot(a, b)
	if got != 2*4+3*5 {
		t.Errorf("sparseDot = %f", got)
	}
	if sparseDot(a, SparseVector{}) != 0 {
		t.Error("empty vector should score 0")
	}
}
