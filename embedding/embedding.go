// Package embedding defines how text becomes vectors.
package embedding

import "context"

// Embedder generates vector embeddings from text.
//
// Implementations can wrap local models or remote APIs. All vectors produced
// by one Embedder must have the same dimensionality, reported by Dimension.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// optimize differently for queries than for documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension is the dimensionality of all produced vectors.
	Dimension() int
}
