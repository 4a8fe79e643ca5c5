package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/knowledge"
)

func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.KnowledgeDir = dir
	cfg.Storage.DatabasePath = filepath.Join(dir, "kb.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.json")
	cfg.Embedding.Provider = "local"
	cfg.Embedding.Dimensions = 16

	base, err := knowledge.New(cfg, t.TempDir(), knowledge.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = base.Close() })

	srv := NewServer(base, &cfg.Server, zap.NewNop())
	return srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestServer_saveAndGetLearning(t *testing.T) {
	_, router := testServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/learnings", map[string]any{
		"title":    "retry with jitter",
		"category": "networking",
		"content":  "always add jitter to exponential backoff",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	saved := decodeBody(t, w)
	id, _ := saved["id"].(string)
	if id == "" {
		t.Fatal("no id in response")
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/learnings/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decodeBody(t, w)
	if got["title"] != "retry with jitter" {
		t.Errorf("unexpected title %v", got["title"])
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/learnings/missing-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestServer_invalidBody(t *testing.T) {
	_, router := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/learnings", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "invalid request body" {
		t.Errorf("unexpected error message %v", body["error"])
	}
}

func TestServer_search(t *testing.T) {
	_, router := testServer(t)

	for _, rec := range []map[string]any{
		{"title": "pool sizing", "category": "database", "content": "size the pool to the core count"},
		{"title": "tls renegotiation", "category": "security", "content": "disable renegotiation on public listeners"},
	} {
		if w := doJSON(t, router, http.MethodPost, "/api/v1/learnings", rec); w.Code != http.StatusCreated {
			t.Fatalf("save failed: %d", w.Code)
		}
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/search", map[string]any{
		"query": "pool sizing core count",
		"limit": 3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	results, _ := body["results"].([]any)
	if len(results) == 0 {
		t.Fatal("no search results")
	}
	first, _ := results[0].(map[string]any)
	if first["title"] != "pool sizing" {
		t.Errorf("expected pool sizing first, got %v", first["title"])
	}
}

func TestServer_garden(t *testing.T) {
	_, router := testServer(t)

	if w := doJSON(t, router, http.MethodPost, "/api/v1/learnings", map[string]any{
		"title":    "cache invalidation",
		"category": "architecture",
		"content":  "invalidate by version not by key deletion",
	}); w.Code != http.StatusCreated {
		t.Fatalf("save failed: %d", w.Code)
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/garden", map[string]any{"dry_run": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if scored, _ := body["scored"].(float64); scored != 1 {
		t.Errorf("expected 1 scored record, got %v", body["scored"])
	}
}

func TestServer_codebaseIndexAndSearch(t *testing.T) {
	_, router := testServer(t)

	root := t.TempDir()
	src := filepath.Join(root, "main.go")
	if err := os.WriteFile(src, []byte("package main\n\nfunc main() { println(\"hello indexing\") }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/codebase/index", map[string]any{"root": root})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if indexed, _ := body["files_indexed"].(float64); indexed != 1 {
		t.Fatalf("expected 1 file indexed, got %v", body["files_indexed"])
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/codebase/search", map[string]any{
		"query": "hello indexing",
		"limit": 3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body = decodeBody(t, w)
	results, _ := body["results"].([]any)
	if len(results) == 0 {
		t.Fatal("no codebase results")
	}
	hit, _ := results[0].(map[string]any)
	if path, _ := hit["file_path"].(string); !strings.HasSuffix(path, "main.go") {
		t.Errorf("unexpected file path %v", hit["file_path"])
	}
}

func TestServer_health(t *testing.T) {
	_, router := testServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("unexpected status %v", body["status"])
	}
}
