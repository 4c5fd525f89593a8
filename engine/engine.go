// Package engine coordinates the document store, vector index and graph
// layers behind the collection-level operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tesseradb/tessera/docstore"
	"github.com/tesseradb/tessera/embedding"
	"github.com/tesseradb/tessera/extraction"
	"github.com/tesseradb/tessera/index"
	"github.com/tesseradb/tessera/lexical"
	"github.com/tesseradb/tessera/metadata"
	"github.com/tesseradb/tessera/model"
)

const (
	// rrfConstant dampens the contribution of lower ranks during fusion.
	rrfConstant = 60

	// DefaultK is the result count when a query does not specify one.
	DefaultK = 10

	// DefaultDedupThreshold is the maximum vector distance at which an
	// incoming document is considered a duplicate of an existing one.
	DefaultDedupThreshold = 0.05
)

// ErrInvalidArgument marks request validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNotFound re-exports the storage sentinel so callers need only one.
var ErrNotFound = docstore.ErrNotFound

// AddRequest is a single document to ingest.
type AddRequest struct {
	ExternalID string
	Text       string
	Metadata   map[string]any
}

// AddResult reports the outcome of a batch ingest.
type AddResult struct {
	Inserted         int
	Skipped          []string
	TriplesExtracted int
}

// QueryRequest describes a hybrid query.
type QueryRequest struct {
	Text   string
	K      int
	Filter map[string]any
}

// Options configures an Engine.
type Options struct {
	// Extractor derives graph triples at ingest time. Nil disables
	// extraction.
	Extractor extraction.Extractor

	// DedupEnabled rejects near-duplicate documents at ingest time.
	DedupEnabled bool

	// DedupThreshold is the distance at or below which an incoming vector
	// counts as a duplicate.
	DedupThreshold float32

	// Lexical supplies the keyword leg for a collection. Nil uses the
	// document store's full-text index.
	Lexical func(collectionID string) lexical.Searcher

	// Logger receives operational logs.
	Logger *slog.Logger
}

// Engine executes collection operations against the underlying stores.
//
// Writes to a collection are serialized per collection. Queries run
// concurrently with each other but not with writes to the same collection.
type Engine struct {
	docs      *docstore.Store
	index     *index.Manager
	embedder  embedding.Embedder
	extractor extraction.Extractor
	lexical   func(collectionID string) lexical.Searcher
	logger    *slog.Logger

	dedupEnabled   bool
	dedupThreshold float32

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New creates an Engine over the given stores.
func New(docs *docstore.Store, mgr *index.Manager, embedder embedding.Embedder, optFns ...func(o *Options)) *Engine {
	opts := Options{
		DedupThreshold: DefaultDedupThreshold,
		Logger:         slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	lexicalFor := opts.Lexical
	if lexicalFor == nil {
		lexicalFor = docs.Lexical
	}

	return &Engine{
		docs:           docs,
		index:          mgr,
		embedder:       embedder,
		extractor:      opts.Extractor,
		lexical:        lexicalFor,
		logger:         opts.Logger,
		dedupEnabled:   opts.DedupEnabled,
		dedupThreshold: opts.DedupThreshold,
		locks:          make(map[string]*sync.RWMutex),
	}
}

func (e *Engine) lockFor(collectionID string) *sync.RWMutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[collectionID]
	if !ok {
		l = &sync.RWMutex{}
		e.locks[collectionID] = l
	}
	return l
}

// dropLock discards a deleted collection's lock. A goroutine still blocked
// on the old lock can interleave with holders of a freshly minted one, but
// collection ids are uuids that are never reused and the rows are already
// gone, so every such straggler observes not-found.
func (e *Engine) dropLock(collectionID string) {
	e.mu.Lock()
	delete(e.locks, collectionID)
	e.mu.Unlock()
}

// BatchOptions override the engine's ingest policy for one call.
type BatchOptions struct {
	// Dedup rejects near-duplicate documents in this batch.
	Dedup bool

	// DedupThreshold is the distance at or below which an incoming vector
	// counts as a duplicate.
	DedupThreshold float32

	// ExtractGraph mines triples from the batch. Ignored when the engine
	// has no extractor.
	ExtractGraph bool
}

// AddBatch ingests documents into a collection: embed, deduplicate, persist,
// index and extract triples. Option functions override the engine-level
// dedup and extraction policy per call.
//
// Duplicate detection compares each incoming vector against the index as it
// was before the batch, so duplicates inside one batch are not detected.
// Re-ingesting an external id is always an upsert, never a duplicate.
func (e *Engine) AddBatch(ctx context.Context, collectionID string, reqs []AddRequest, optFns ...func(o *BatchOptions)) (AddResult, error) {
	opts := BatchOptions{
		Dedup:          e.dedupEnabled,
		DedupThreshold: e.dedupThreshold,
		ExtractGraph:   e.extractor != nil,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var result AddResult
	if len(reqs) == 0 {
		return result, nil
	}
	for _, r := range reqs {
		if r.ExternalID == "" {
			return result, fmt.Errorf("%w: document without external id", ErrInvalidArgument)
		}
	}

	lock := e.lockFor(collectionID)
	lock.Lock()
	defer lock.Unlock()

	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = r.Text
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return result, fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(reqs) {
		return result, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(reqs))
	}

	// Decide duplicates against the pre-batch index state.
	accepted := make([]int, 0, len(reqs))
	for i, r := range reqs {
		key := model.DeriveKey(collectionID, r.ExternalID)
		if opts.Dedup {
			dup, err := e.isDuplicate(ctx, collectionID, key, vectors[i], opts.DedupThreshold)
			if err != nil {
				return result, err
			}
			if dup {
				result.Skipped = append(result.Skipped, r.ExternalID)
				continue
			}
		}
		accepted = append(accepted, i)
	}

	keys := make([]model.Key, 0, len(accepted))
	vecs := make([][]float32, 0, len(accepted))
	var triples []model.Triple

	for _, i := range accepted {
		r := reqs[i]
		key := model.DeriveKey(collectionID, r.ExternalID)

		meta, err := metadata.DocumentFromAny(r.Metadata)
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}

		if err := e.docs.UpsertDocument(ctx, collectionID, model.Document{
			ExternalID:  r.ExternalID,
			InternalKey: key,
			Text:        r.Text,
			Metadata:    meta,
		}); err != nil {
			return result, err
		}

		keys = append(keys, key)
		vecs = append(vecs, vectors[i])

		if opts.ExtractGraph && e.extractor != nil {
			triples = append(triples, e.extractor.ExtractTriples(r.ExternalID, r.Text)...)
		}
	}

	if len(keys) > 0 {
		if err := e.index.AddBatch(ctx, collectionID, keys, vecs); err != nil {
			return result, err
		}
	}
	result.Inserted = len(keys)

	if len(triples) > 0 {
		n, err := e.docs.UpsertTriples(ctx, collectionID, triples)
		if err != nil {
			return result, err
		}
		result.TriplesExtracted = n
	}

	e.logger.Debug("batch ingested",
		slog.String("collection", collectionID),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("triples", result.TriplesExtracted),
	)
	return result, nil
}

func (e *Engine) isDuplicate(ctx context.Context, collectionID string, key model.Key, vector []float32, threshold float32) (bool, error) {
	nearest, err := e.index.Search(ctx, collectionID, vector, 1)
	if err != nil {
		return false, err
	}
	if len(nearest) == 0 {
		return false, nil
	}
	// A document is never a duplicate of itself.
	if nearest[0].Key == key {
		return false, nil
	}
	return nearest[0].Distance <= threshold, nil
}

// Query runs vector and keyword retrieval in parallel, fuses the ranked
// lists with reciprocal rank fusion, applies the metadata filter and
// returns the top k hits.
func (e *Engine) Query(ctx context.Context, collectionID string, req QueryRequest) ([]model.SearchHit, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidArgument)
	}
	k := req.K
	if k <= 0 {
		k = DefaultK
	}

	pred, err := metadata.ParsePredicate(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	lock := e.lockFor(collectionID)
	lock.RLock()
	defer lock.RUnlock()

	// With a filter in play the vector pool is widened so post-filter
	// truncation can still fill k results.
	vectorPool := k
	if pred != nil {
		vectorPool = 2 * k
	}
	keywordPool := 2 * k

	var vectorLeg []model.Candidate
	var keywordLeg []model.Candidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		queryVec, err := e.embedder.EmbedQuery(gctx, req.Text)
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		results, err := e.index.Search(gctx, collectionID, queryVec, vectorPool)
		if err != nil {
			return err
		}
		vectorLeg = make([]model.Candidate, len(results))
		for i, r := range results {
			vectorLeg[i] = model.Candidate{Key: r.Key, Score: -r.Distance}
		}
		return nil
	})
	g.Go(func() error {
		// Keyword retrieval is best effort: a failing lexical index degrades
		// the query to vector-only instead of failing it.
		candidates, err := e.lexical(collectionID).Search(gctx, req.Text, keywordPool)
		if err != nil {
			e.logger.Warn("keyword retrieval failed",
				slog.String("collection", collectionID),
				slog.Any("error", err),
			)
			return nil
		}
		keywordLeg = candidates
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(vectorLeg, keywordLeg)
	if len(fused) == 0 {
		return nil, nil
	}

	keys := make([]model.Key, len(fused))
	for i, f := range fused {
		keys[i] = f.key
	}
	docs, err := e.docs.GetDocumentsByKeys(ctx, collectionID, keys)
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, k)
	for _, f := range fused {
		doc, ok := docs[f.key]
		if !ok {
			continue
		}
		if pred != nil && !pred.Matches(doc.Metadata) {
			continue
		}
		hits = append(hits, model.SearchHit{
			ExternalID: doc.ExternalID,
			Text:       doc.Text,
			Metadata:   doc.Metadata,
			Score:      f.score,
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

type fusedCandidate struct {
	key   model.Key
	score float64
}

// fuse merges ranked candidate lists with reciprocal rank fusion. Each list
// contributes 1/(60+rank+1) per candidate; ties break on ascending key.
func fuse(lists ...[]model.Candidate) []fusedCandidate {
	scores := make(map[model.Key]float64)
	for _, list := range lists {
		for rank, c := range list {
			scores[c.Key] += 1.0 / float64(rrfConstant+rank+1)
		}
	}

	fused := make([]fusedCandidate, 0, len(scores))
	for key, score := range scores {
		fused = append(fused, fusedCandidate{key: key, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].key < fused[j].key
	})
	return fused
}

// DeleteDocument removes a document from the store, the text index and the
// vector index. Triples extracted from the document are retained: the graph
// holds no ownership of its source documents and is only cleared by a
// collection delete or an explicit caller request.
func (e *Engine) DeleteDocument(ctx context.Context, collectionID, externalID string) error {
	lock := e.lockFor(collectionID)
	lock.Lock()
	defer lock.Unlock()

	key, err := e.docs.DeleteDocument(ctx, collectionID, externalID)
	if err != nil {
		return err
	}
	return e.index.Delete(ctx, collectionID, key)
}

// DeleteCollection removes the collection and every derived artifact:
// documents, full-text rows, triples and the vector index.
func (e *Engine) DeleteCollection(ctx context.Context, collectionID string) error {
	lock := e.lockFor(collectionID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.docs.DeleteCollection(ctx, collectionID); err != nil {
		return err
	}
	if err := e.index.Drop(ctx, collectionID); err != nil {
		return err
	}
	e.dropLock(collectionID)
	return nil
}

// AddTriples writes caller-provided triples into the collection graph.
func (e *Engine) AddTriples(ctx context.Context, collectionID string, triples []model.Triple) (int, error) {
	for _, tr := range triples {
		if tr.Subject == "" || tr.Predicate == "" || tr.Object == "" {
			return 0, fmt.Errorf("%w: triple with empty field", ErrInvalidArgument)
		}
	}

	lock := e.lockFor(collectionID)
	lock.Lock()
	defer lock.Unlock()

	return e.docs.UpsertTriples(ctx, collectionID, triples)
}

// QueryGraph returns the 1-hop neighbourhood of the given entities.
func (e *Engine) QueryGraph(ctx context.Context, collectionID string, entities []string) ([]model.Triple, error) {
	lock := e.lockFor(collectionID)
	lock.RLock()
	defer lock.RUnlock()

	return e.docs.QueryTriples(ctx, collectionID, entities)
}
