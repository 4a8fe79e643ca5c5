package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestCache_lruEviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})

	// Touch "a" so "b" is the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Set("c", []float32{3})

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestCache_zeroCapacityDisables(t *testing.T) {
	c := NewCache(0)
	c.Set("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache should not store")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestLocalEmbedder_deterministicAndNormalized(t *testing.T) {
	e := NewLocalEmbedder(64)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "database migration rollback")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := e.Embed(ctx, "database migration rollback")
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("same text must produce the same embedding")
		}
	}

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("embedding not unit length: %f", norm)
	}

	b, _ := e.Embed(ctx, "completely unrelated pastry recipe")
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should produce different embeddings")
	}
}

func TestLocalEmbedder_emptyTextStillUnit(t *testing.T) {
	e := NewLocalEmbedder(8)
	emb, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, v := range emb {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("empty text embedding not unit length: %f", norm)
	}
}

func TestHashedSparse_weightsAndOrder(t *testing.T) {
	s := NewHashedSparse()
	sv := s.EmbedSparse("cache Cache CACHE miss")
	if len(sv.Indices) != 2 {
		t.Fatalf("expected 2 distinct tokens, got %d", len(sv.Indices))
	}
	for i := 1; i < len(sv.Indices); i++ {
		if sv.Indices[i-1] >= sv.Indices[i] {
			t.Fatal("indices must be sorted ascending")
		}
	}
	// "cache" appears three times: weight 1 + ln(3).
	want := float32(1 + math.Log(3))
	found := false
	for _, v := range sv.Values {
		if v == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a weight of %f, got %v", want, sv.Values)
	}

	if !s.EmbedSparse("...!!!").IsZero() {
		t.Error("punctuation-only text should produce a zero vector")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! foo_bar v2.0")
	want := []string{"hello", "world", "foo", "bar", "v2", "0"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize = %v, want %v", got, want)
		}
	}
}

func TestRegistry_buildsOnceUnderConcurrency(t *testing.T) {
	r := NewRegistry()
	var builds int32
	var mu sync.Mutex

	const n = 32
	var wg sync.WaitGroup
	embedders := make([]Embedder, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Get("local:test-model", func() (Embedder, error) {
				mu.Lock()
				builds++
				mu.Unlock()
				return NewLocalEmbedder(16), nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			embedders[i] = e
		}(i)
	}
	wg.Wait()

	if builds != 1 {
		t.Errorf("expected exactly one construction, got %d", builds)
	}
	for i := 1; i < n; i++ {
		if embedders[i] != embedders[0] {
			t.Fatal("all callers should share the same embedder instance")
		}
	}
}

func TestRegistry_errorSharedAndEvictable(t *testing.T) {
	r := NewRegistry()
	calls := 0
	build := func() (Embedder, error) {
		calls++
		return nil, fmt.Errorf("model load failed")
	}

	if _, err := r.Get("onnx:bad", build); err == nil {
		t.Fatal("expected error")
	}
	// Failed construction is cached until evicted.
	if _, err := r.Get("onnx:bad", build); err == nil {
		t.Fatal("expected cached error")
	}
	if calls != 1 {
		t.Errorf("build ran %d times, want 1", calls)
	}

	r.Evict("onnx:bad")
	_, _ = r.Get("onnx:bad", build)
	if calls != 2 {
		t.Errorf("build should rerun after eviction, ran %d times", calls)
	}
}

func TestProvider_remoteWithoutKeyFallsBackToLocal(t *testing.T) {
	t.Setenv("CHISHIKI_TEST_KEY", "")
	t.Setenv(fallbackAPIKeyEnv, "")

	p, err := NewProvider(ProviderOptions{
		Kind:      KindRemote,
		Model:     "text-embedding-3-small",
		APIKeyEnv: "CHISHIKI_TEST_KEY",
	}, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind() != KindLocal {
		t.Errorf("provider kind = %q, want local fallback", p.Kind())
	}
	emb, err := p.EmbedDense(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != p.Dimensions() {
		t.Errorf("embedding length %d != dimensions %d", len(emb), p.Dimensions())
	}
}

func TestResolveDimensions(t *testing.T) {
	tests := []struct {
		kind       string
		model      string
		configured int
		want       int
	}{
		{KindRemote, "text-embedding-3-small", 0, 1536},
		{KindRemote, "nomic-embed-text", 0, 768},
		{KindONNX, "all-MiniLM-L6-v2", 0, 384},
		{KindLocal, "", 0, 384},
		{KindRemote, "nomic-embed-text", 512, 512},
	}
	for _, tt := range tests {
		if got := resolveDimensions(tt.kind, tt.model, tt.configured); got != tt.want {
			t.Errorf("resolveDimensions(%q, %q, %d) = %d, want %d",
				tt.kind, tt.model, tt.configured, got, tt.want)
		}
	}
}

func TestRemoteEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := embeddingsResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewRemoteEmbedder(srv.URL, "test-key", "m", 2)
	embs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(embs) != 2 || embs[1][0] != 1 {
		t.Errorf("unexpected embeddings: %v", embs)
	}

	bad := NewRemoteEmbedder(srv.URL, "wrong", "m", 2)
	if _, err := bad.Embed(context.Background(), "a"); err == nil {
		t.Error("expected error for bad credentials")
	}
}

func TestProvider_cachesDenseEmbeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(embeddingsResponse{Data: []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{{Index: 0, Embedding: []float32{1, 2}}}})
	}))
	defer srv.Close()

	t.Setenv("CHISHIKI_TEST_KEY", "k")
	p, err := NewProvider(ProviderOptions{
		Kind:       KindRemote,
		Model:      "m",
		BaseURL:    srv.URL,
		APIKeyEnv:  "CHISHIKI_TEST_KEY",
		Dimensions: 2,
		CacheSize:  10,
	}, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := p.EmbedDense(ctx, "same text"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.EmbedDense(ctx, "same text"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 API call for repeated text, got %d", calls)
	}
}
