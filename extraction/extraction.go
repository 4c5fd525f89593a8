// Package extraction derives knowledge-graph triples from document text.
package extraction

import "github.com/tesseradb/tessera/model"

// Extractor turns raw text into entities and relationship triples.
type Extractor interface {
	// ExtractEntities returns the distinct entities found in the text, in
	// order of first appearance.
	ExtractEntities(text string) []string

	// ExtractTriples returns relationship triples for the text, tagged with
	// the source document id.
	ExtractTriples(sourceDocID, text string) []model.Triple
}
