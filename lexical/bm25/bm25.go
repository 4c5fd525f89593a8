// Package bm25 provides an in-memory BM25 lexical index.
package bm25

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tesseradb/tessera/lexical"
	"github.com/tesseradb/tessera/model"
)

const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	key   model.Key
	count int
}

// MemoryIndex is a simple in-memory BM25 index.
type MemoryIndex struct {
	mu          sync.RWMutex
	inverted    map[string][]posting
	docLengths  map[model.Key]int
	totalLength int64
	docCount    int
}

// New creates a new MemoryIndex.
func New() *MemoryIndex {
	return &MemoryIndex{
		inverted:   make(map[string][]posting),
		docLengths: make(map[model.Key]int),
	}
}

// Ensure MemoryIndex implements lexical.Index
var _ lexical.Index = (*MemoryIndex)(nil)

func (idx *MemoryIndex) tokenize(text string) []string {
	// Very simple tokenizer: lowercase and split by whitespace
	return strings.Fields(strings.ToLower(text))
}

// Add indexes a document. Re-adding a key replaces the previous text.
func (idx *MemoryIndex) Add(key model.Key, text string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// If exists, delete first (naive update)
	if _, ok := idx.docLengths[key]; ok {
		idx.deleteLocked(key)
	}

	tokens := idx.tokenize(text)
	length := len(tokens)

	idx.docLengths[key] = length
	idx.totalLength += int64(length)
	idx.docCount++

	// Count term frequencies
	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}

	for t, count := range tf {
		idx.inverted[t] = append(idx.inverted[t], posting{key: key, count: count})
	}

	return nil
}

// Delete removes a document from the index.
func (idx *MemoryIndex) Delete(key model.Key) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.deleteLocked(key)
}

func (idx *MemoryIndex) deleteLocked(key model.Key) error {
	length, ok := idx.docLengths[key]
	if !ok {
		return nil
	}

	// This is slow (O(terms * docs)), but acceptable for in-memory deployments.
	for t := range idx.inverted {
		postings := idx.inverted[t]
		for i, p := range postings {
			if p.key == key {
				idx.inverted[t] = append(postings[:i], postings[i+1:]...)
				break
			}
		}
	}

	delete(idx.docLengths, key)
	idx.totalLength -= int64(length)
	idx.docCount--
	return nil
}

// Search performs a keyword search and returns up to k candidates ranked by
// descending BM25 score.
func (idx *MemoryIndex) Search(_ context.Context, text string, k int) ([]model.Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 || k <= 0 {
		return nil, nil
	}

	tokens := idx.tokenize(text)
	scores := make(map[model.Key]float32)

	avgDL := float64(idx.totalLength) / float64(idx.docCount)

	for _, t := range tokens {
		postings, ok := idx.inverted[t]
		if !ok {
			continue
		}

		// IDF
		df := len(postings)
		idf := idx.computeIDF(df)

		for _, p := range postings {
			tf := float64(p.count)
			docLen := float64(idx.docLengths[p.key])

			// BM25 formula
			num := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(docLen/avgDL))
			score := idf * (num / denom)

			scores[p.key] += float32(score)
		}
	}

	candidates := make([]model.Candidate, 0, len(scores))
	for key, score := range scores {
		candidates = append(candidates, model.Candidate{Key: key, Score: score})
	}

	// Stable rank: score descending, key ascending as tie-break.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Key < candidates[j].Key
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (idx *MemoryIndex) computeIDF(df int) float64 {
	// IDF = log(1 + (N - n + 0.5) / (n + 0.5))
	N := float64(idx.docCount)
	n := float64(df)
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

// Close releases nothing; the index is purely in-memory.
func (idx *MemoryIndex) Close() error {
	return nil
}
