package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashingEmbedder is a deterministic, dependency-free embedder using the
// hashing trick: tokens are hashed into a fixed number of buckets and the
// resulting term-frequency vector is L2-normalized.
//
// It has no semantic understanding. It exists for tests, local development
// and air-gapped deployments where calling a real model is not an option.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a HashingEmbedder with the given dimensionality.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	return &HashingEmbedder{dimension: dimension}
}

var _ Embedder = (*HashingEmbedder)(nil)

// Dimension returns the configured vector size.
func (e *HashingEmbedder) Dimension() int {
	return e.dimension
}

// EmbedDocuments embeds each text independently.
func (e *HashingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *HashingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *HashingEmbedder) embed(text string) []float32 {
	vector := make([]float32, e.dimension)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}

	inv := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}
