// Package lexical defines the keyword retrieval contract.
package lexical

import (
	"context"

	"github.com/tesseradb/tessera/model"
)

// Searcher ranks documents for a keyword query. The hybrid query path
// consumes this contract for its keyword leg.
type Searcher interface {
	// Search returns up to k candidates ranked by descending relevance.
	Search(ctx context.Context, text string, k int) ([]model.Candidate, error)
}

// Index is a lexical index maintained incrementally by its caller.
type Index interface {
	Searcher

	// Add adds a document to the index. Re-adding a key replaces it.
	Add(key model.Key, text string) error

	// Delete removes a document from the index.
	Delete(key model.Key) error

	// Close closes the index.
	Close() error
}
