// Package vector provides the vector index adapter: collection lifecycle,
// point upsert/delete, and similarity queries over dense and sparse vectors.
package vector

import "context"

// Named vector slots within a collection. Dense is the default unnamed
// vector; Sparse holds BM25-style sparse vectors.
const (
	UsingDense  = ""
	UsingSparse = "text-sparse"
)

// SparseVector is a sparse embedding: parallel index/value slices sorted by
// index.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the sparse vector is empty.
func (v SparseVector) IsZero() bool {
	return len(v.Indices) == 0
}

// Point is one indexed entry: a dense vector, an optional sparse vector, and
// a payload of searchable fields.
type Point struct {
	ID      string         `json:"id"`
	Dense   []float32      `json:"dense"`
	Sparse  *SparseVector  `json:"sparse,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Hit is a ranked query result.
type Hit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Match is one payload field condition.
type Match struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Filter restricts a query to points where at least one Should condition
// matches.
type Filter struct {
	Should []Match `json:"should,omitempty"`
}

// QueryRequest selects one vector space (dense or sparse via Using), an
// optional filter, and a result limit.
type QueryRequest struct {
	Using  string
	Dense  []float32
	Sparse *SparseVector
	Filter *Filter
	Limit  int
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	VectorSize int
	Sparse     bool
	Points     int
}

// Backend is the vector search service boundary. Implementations must be
// safe for concurrent use. Errors are recoverable from the caller's point
// of view: they trigger fallback or "unavailable" state, never data loss.
type Backend interface {
	// EnsureCollection creates the collection when missing. It never
	// mutates or recreates an existing collection.
	EnsureCollection(ctx context.Context, name string, vectorSize int, enableSparse bool) error

	// CollectionInfo returns size/capability info for an existing
	// collection, or an error when it does not exist.
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeletePoints removes points by id. Missing ids are not an error.
	DeletePoints(ctx context.Context, collection string, ids []string) error

	// Query returns ranked hits for one vector space.
	Query(ctx context.Context, collection string, req QueryRequest) ([]Hit, error)

	// Close releases backend resources.
	Close() error
}

// matchesFilter reports whether a payload satisfies the filter. Payload
// values may be strings or string slices (tags).
func matchesFilter(payload map[string]any, filter *Filter) bool {
	if filter == nil || len(filter.Should) == 0 {
		return true
	}
	for _, m := range filter.Should {
		switch v := payload[m.Key].(type) {
		case string:
			if v == m.Value {
				return true
			}
		case []string:
			for _, s := range v {
				if s == m.Value {
					return true
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s == m.Value {
					return true
				}
			}
		}
	}
	return false
}
