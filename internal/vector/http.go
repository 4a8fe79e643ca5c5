package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPBackend talks to a Qdrant-compatible vector search service over its
// REST API. All errors are recoverable: callers degrade to local search.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a backend for the service at baseURL
// (e.g. http://localhost:6333). The URL scheme must be http or https.
func NewHTTPBackend(baseURL string, timeout time.Duration) (*HTTPBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid vector backend URL: %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in vector backend URL", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// EnsureCollection creates the collection when missing. Existing
// collections are never modified: the create call is skipped when the
// collection already exists.
func (b *HTTPBackend) EnsureCollection(ctx context.Context, name string, vectorSize int, enableSparse bool) error {
	if _, err := b.CollectionInfo(ctx, name); err == nil {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	if enableSparse {
		body["sparse_vectors"] = map[string]any{
			UsingSparse: map[string]any{},
		}
	}
	return b.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body, nil)
}

type collectionInfoResponse struct {
	Result struct {
		PointsCount int `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors       json.RawMessage `json:"vectors"`
				SparseVectors json.RawMessage `json:"sparse_vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// CollectionInfo returns size/capability info for an existing collection.
func (b *HTTPBackend) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	var resp collectionInfoResponse
	if err := b.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	info := &CollectionInfo{
		Points: resp.Result.PointsCount,
		Sparse: len(resp.Result.Config.Params.SparseVectors) > 0 && string(resp.Result.Config.Params.SparseVectors) != "null",
	}
	// The vectors config is either a single param object or a map of named
	// vector params; the default dense vector is the unnamed entry.
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(resp.Result.Config.Params.Vectors, &single); err == nil && single.Size > 0 {
		info.VectorSize = single.Size
		return info, nil
	}
	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(resp.Result.Config.Params.Vectors, &named); err == nil {
		if params, ok := named[UsingDense]; ok {
			info.VectorSize = params.Size
			return info, nil
		}
	}
	return nil, fmt.Errorf("could not determine vector size for collection %s", name)
}

// Upsert inserts or replaces points by id.
func (b *HTTPBackend) Upsert(ctx context.Context, collection string, points []Point) error {
	wire := make([]map[string]any, 0, len(points))
	for _, p := range points {
		vectors := map[string]any{UsingDense: p.Dense}
		if p.Sparse != nil && !p.Sparse.IsZero() {
			vectors[UsingSparse] = map[string]any{
				"indices": p.Sparse.Indices,
				"values":  p.Sparse.Values,
			}
		}
		wire = append(wire, map[string]any{
			"id":      p.ID,
			"vector":  vectors,
			"payload": p.Payload,
		})
	}
	body := map[string]any{"points": wire}
	return b.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", body, nil)
}

// DeletePoints removes points by id.
func (b *HTTPBackend) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return b.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body, nil)
}

type queryResponse struct {
	Result struct {
		Points []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

// Query returns ranked hits for one vector space.
func (b *HTTPBackend) Query(ctx context.Context, collection string, req QueryRequest) ([]Hit, error) {
	body := map[string]any{
		"limit":        req.Limit,
		"with_payload": true,
	}
	switch req.Using {
	case UsingDense:
		body["query"] = req.Dense
	case UsingSparse:
		if req.Sparse == nil {
			return nil, fmt.Errorf("sparse query vector required")
		}
		body["query"] = map[string]any{
			"indices": req.Sparse.Indices,
			"values":  req.Sparse.Values,
		}
		body["using"] = UsingSparse
	default:
		return nil, fmt.Errorf("unknown vector name: %q", req.Using)
	}
	if req.Filter != nil && len(req.Filter.Should) > 0 {
		should := make([]map[string]any, 0, len(req.Filter.Should))
		for _, m := range req.Filter.Should {
			should = append(should, map[string]any{
				"key":   m.Key,
				"match": map[string]any{"value": m.Value},
			})
		}
		body["filter"] = map[string]any{"should": should}
	}

	var resp queryResponse
	if err := b.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/query", body, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		hits = append(hits, Hit{ID: fmt.Sprint(p.ID), Score: p.Score, Payload: p.Payload})
	}
	return hits, nil
}

// Close is a no-op: the backend holds no persistent connections.
func (b *HTTPBackend) Close() error {
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("vector backend request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("vector backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
