package embedding

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/chishiki/internal/vector"
)

// HashedSparse produces sparse lexical vectors by hashing tokens into a
// fixed index space with log-scaled term frequency weights. It needs no
// vocabulary file, so any two processes produce compatible vectors.
type HashedSparse struct{}

// NewHashedSparse returns a sparse embedder.
func NewHashedSparse() *HashedSparse {
	return &HashedSparse{}
}

// EmbedSparse maps each distinct token to a hashed index with weight
// 1 + ln(tf). Indices are sorted ascending; hash collisions sum.
func (s *HashedSparse) EmbedSparse(text string) vector.SparseVector {
	counts := make(map[uint32]int)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		counts[h.Sum32()]++
	}
	if len(counts) == 0 {
		return vector.SparseVector{}
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(1 + math.Log(float64(counts[idx])))
	}
	return vector.SparseVector{Indices: indices, Values: values}
}

// Tokenize lowercases text and splits it on any non-letter, non-digit
// rune, returning the non-empty tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
