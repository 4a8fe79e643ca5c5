package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/chishiki/pkg/utils"
)

// LocalEmbedder is a deterministic, dependency-free embedder. It derives a
// unit vector from token hashes so the same text always maps to the same
// embedding and related texts share components. It is the offline fallback
// when no remote provider or ONNX model is available.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder returns an embedder producing deterministic embeddings
// of the given dimensions.
func NewLocalEmbedder(dimensions int) *LocalEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &LocalEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding derived from token hashes.
// Each token contributes to a handful of components so that texts sharing
// words end up closer in the vector space than unrelated texts.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, e.dimensions)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		seed := h.Sum32()
		for i := 0; i < 4; i++ {
			idx := int(seed>>uint(i*8)) % e.dimensions
			emb[idx] += float32(math.Sin(float64(seed) + float64(i)))
		}
	}
	utils.NormalizeL2(emb)
	if isZero(emb) {
		// Empty or all-stopped text still gets a valid unit vector.
		emb[0] = 1
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for LocalEmbedder.
func (e *LocalEmbedder) Close() error {
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
