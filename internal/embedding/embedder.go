// Package embedding produces dense and sparse text embeddings for
// knowledge records, with caching and pluggable providers.
package embedding

import (
	"context"

	"github.com/hyperjump/chishiki/internal/vector"
)

// Embedder produces dense vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// SparseEmbedder produces sparse lexical embeddings for text.
type SparseEmbedder interface {
	EmbedSparse(text string) vector.SparseVector
}
