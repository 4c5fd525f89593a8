package extraction

import (
	"regexp"
	"strings"

	"github.com/tesseradb/tessera/model"
)

const (
	// Texts beyond this size are skipped entirely. Co-occurrence extraction
	// is quadratic in the entity count and long texts produce mostly noise.
	maxTextLen = 50000

	cooccurrencePredicate = "related_to"
	cooccurrenceWeight    = 0.8
)

// entityPattern matches runs of capitalized words, the usual shape of names,
// places and product identifiers in prose.
var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)

// stopwords are capitalized words that start sentences without naming
// anything.
var stopwords = map[string]struct{}{
	"A": {}, "An": {}, "The": {}, "This": {}, "That": {}, "These": {}, "Those": {},
	"It": {}, "He": {}, "She": {}, "They": {}, "We": {}, "You": {}, "I": {},
	"If": {}, "In": {}, "On": {}, "At": {}, "For": {}, "And": {}, "But": {},
	"Or": {}, "So": {}, "As": {}, "By": {}, "To": {}, "Of": {}, "With": {},
	"When": {}, "Where": {}, "What": {}, "Why": {}, "How": {}, "There": {},
}

// HeuristicExtractor finds entities by pattern matching and links every pair
// of entities that co-occur in the same text.
//
// It needs no model and no network. Precision is modest but stable, which is
// what the graph layer wants from a default.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a HeuristicExtractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

var _ Extractor = (*HeuristicExtractor)(nil)

// ExtractEntities returns distinct capitalized phrases in order of first
// appearance, minus sentence-initial stopwords.
func (e *HeuristicExtractor) ExtractEntities(text string) []string {
	if len(text) > maxTextLen {
		return nil
	}

	var entities []string
	seen := make(map[string]struct{})

	for _, match := range entityPattern.FindAllString(text, -1) {
		match = strings.TrimSpace(match)
		if _, stop := stopwords[match]; stop {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		entities = append(entities, match)
	}
	return entities
}

// ExtractTriples links every pair of co-occurring entities with a symmetric
// relation. Pairs are emitted once, in appearance order.
func (e *HeuristicExtractor) ExtractTriples(sourceDocID, text string) []model.Triple {
	entities := e.ExtractEntities(text)
	if len(entities) < 2 {
		return nil
	}

	var triples []model.Triple
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			triples = append(triples, model.Triple{
				Subject:     entities[i],
				Predicate:   cooccurrencePredicate,
				Object:      entities[j],
				SourceDocID: sourceDocID,
				Weight:      cooccurrenceWeight,
			})
		}
	}
	return triples
}
