package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tesseradb/tessera/blobstore"
	"github.com/tesseradb/tessera/docstore"
	"github.com/tesseradb/tessera/embedding"
	"github.com/tesseradb/tessera/extraction"
	"github.com/tesseradb/tessera/index"
	"github.com/tesseradb/tessera/lexical"
	"github.com/tesseradb/tessera/lexical/bm25"
	"github.com/tesseradb/tessera/model"
)

func newTestEngine(t *testing.T, optFns ...func(o *Options)) (*Engine, *docstore.Store) {
	t.Helper()

	docs, err := docstore.Open(filepath.Join(t.TempDir(), "tessera.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	embedder := embedding.NewHashingEmbedder(64)
	mgr := index.NewManager(blobstore.NewMemoryStore(), embedder.Dimension())

	return New(docs, mgr, embedder, optFns...), docs
}

func mustCreate(t *testing.T, docs *docstore.Store, name string) model.Collection {
	t.Helper()
	col, err := docs.CreateCollection(context.Background(), name, nil)
	require.NoError(t, err)
	return col
}

func TestAddBatchAndQuery(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "a", Text: "the quick brown fox jumps over the dog"},
		{ExternalID: "b", Text: "databases store structured records"},
		{ExternalID: "c", Text: "foxes are quick wild animals"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Inserted)
	require.Empty(t, result.Skipped)

	hits, err := e.Query(ctx, col.ID, QueryRequest{Text: "quick fox", K: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		require.NotEqual(t, "b", h.ExternalID)
		require.Positive(t, h.Score)
	}
}

func TestAddBatchValidation(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{{Text: "no id"}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	result, err := e.AddBatch(ctx, col.ID, nil)
	require.NoError(t, err)
	require.Zero(t, result.Inserted)
}

type recordingSearcher struct {
	idx   *bm25.MemoryIndex
	calls int
}

func (r *recordingSearcher) Search(ctx context.Context, text string, k int) ([]model.Candidate, error) {
	r.calls++
	return r.idx.Search(ctx, text, k)
}

func TestLexicalOverride(t *testing.T) {
	ctx := context.Background()

	rec := &recordingSearcher{idx: bm25.New()}
	e, docs := newTestEngine(t, func(o *Options) {
		o.Lexical = func(string) lexical.Searcher { return rec }
	})
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "a", Text: "alpha beta gamma"},
		{ExternalID: "b", Text: "delta epsilon zeta"},
	})
	require.NoError(t, err)
	require.NoError(t, rec.idx.Add(model.DeriveKey(col.ID, "a"), "alpha beta gamma"))
	require.NoError(t, rec.idx.Add(model.DeriveKey(col.ID, "b"), "delta epsilon zeta"))

	hits, err := e.Query(ctx, col.ID, QueryRequest{Text: "alpha beta", K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ExternalID)
	require.Equal(t, 1, rec.calls)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t, func(o *Options) { o.DedupEnabled = true })
	col := mustCreate(t, docs, "docs")

	for i := 0; i < 3; i++ {
		result, err := e.AddBatch(ctx, col.ID, []AddRequest{
			{ExternalID: "a", Text: "identical content every time"},
		})
		require.NoError(t, err)
		// Re-ingesting the same external id is an upsert, not a duplicate.
		require.Equal(t, 1, result.Inserted)
		require.Empty(t, result.Skipped)
	}

	n, err := docs.CountDocuments(ctx, col.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDedupSkipsNearDuplicates(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t, func(o *Options) { o.DedupEnabled = true })
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "original", Text: "exactly the same words here"},
	})
	require.NoError(t, err)

	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "copy", Text: "exactly the same words here"},
		{ExternalID: "fresh", Text: "completely different topic entirely"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Equal(t, []string{"copy"}, result.Skipped)

	_, err = docs.GetDocument(ctx, col.ID, "copy")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestDedupChecksPreBatchStateOnly(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t, func(o *Options) { o.DedupEnabled = true })
	col := mustCreate(t, docs, "docs")

	// Duplicates inside one batch are not compared against each other.
	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "a", Text: "same text in one batch"},
		{ExternalID: "b", Text: "same text in one batch"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)
	require.Empty(t, result.Skipped)
}

func TestDedupDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "a", Text: "same text"},
	})
	require.NoError(t, err)

	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "b", Text: "same text"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Empty(t, result.Skipped)
}

func TestBatchOptionsOverrideEnginePolicy(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t) // dedup off at engine level
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "a", Text: "same text again"},
	})
	require.NoError(t, err)

	// Per-call dedup catches the duplicate even though the engine default
	// would accept it.
	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "b", Text: "same text again"},
	}, func(o *BatchOptions) {
		o.Dedup = true
		o.DedupThreshold = 0.05
	})
	require.NoError(t, err)
	require.Zero(t, result.Inserted)
	require.Equal(t, []string{"b"}, result.Skipped)
}

func TestBatchOptionsDisableExtraction(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t, func(o *Options) {
		o.Extractor = extraction.NewHeuristicExtractor()
	})
	col := mustCreate(t, docs, "docs")

	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "d1", Text: "Alice met Bob."},
	}, func(o *BatchOptions) {
		o.ExtractGraph = false
	})
	require.NoError(t, err)
	require.Zero(t, result.TriplesExtracted)

	triples, err := e.QueryGraph(ctx, col.ID, []string{"Alice"})
	require.NoError(t, err)
	require.Empty(t, triples)
}

func TestQueryWithMetadataFilter(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "cheap", Text: "red running shoes", Metadata: map[string]any{"price": 20}},
		{ExternalID: "pricey", Text: "red running shoes deluxe", Metadata: map[string]any{"price": 200}},
		{ExternalID: "tagless", Text: "red running shoes basic"},
	})
	require.NoError(t, err)

	hits, err := e.Query(ctx, col.ID, QueryRequest{
		Text:   "red shoes",
		K:      10,
		Filter: map[string]any{"price": map[string]any{"$lt": 100}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "cheap", hits[0].ExternalID)
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	_, err := e.Query(ctx, col.ID, QueryRequest{Text: ""})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.Query(ctx, col.ID, QueryRequest{
		Text:   "x",
		Filter: map[string]any{"a": map[string]any{"$near": 1}},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQueryEmptyCollection(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	hits, err := e.Query(ctx, col.ID, QueryRequest{Text: "anything", K: 5})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestQueryLimitsToK(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	reqs := make([]AddRequest, 10)
	for i := range reqs {
		reqs[i] = AddRequest{
			ExternalID: string(rune('a' + i)),
			Text:       "common topic shared by all documents",
		}
	}
	_, err := e.AddBatch(ctx, col.ID, reqs)
	require.NoError(t, err)

	hits, err := e.Query(ctx, col.ID, QueryRequest{Text: "common topic", K: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
}

func TestFuseRewardsPresenceInBothLists(t *testing.T) {
	vector := []model.Candidate{{Key: 1}, {Key: 2}, {Key: 3}}
	keyword := []model.Candidate{{Key: 2}, {Key: 4}}

	fused := fuse(vector, keyword)
	require.Equal(t, model.Key(2), fused[0].key)

	// Rank 1 plus rank 0 beats a single rank 0.
	require.InDelta(t, 1.0/62+1.0/61, fused[0].score, 1e-9)
}

func TestFuseTieBreaksOnKey(t *testing.T) {
	fused := fuse([]model.Candidate{{Key: 7}}, []model.Candidate{{Key: 3}})
	require.Equal(t, model.Key(3), fused[0].key)
	require.Equal(t, model.Key(7), fused[1].key)
	require.Equal(t, fused[0].score, fused[1].score)
}

func TestTripleExtractionOnIngest(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t, func(o *Options) {
		o.Extractor = extraction.NewHeuristicExtractor()
	})
	col := mustCreate(t, docs, "docs")

	result, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "d1", Text: "Alice works with Bob."},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.TriplesExtracted)

	triples, err := e.QueryGraph(ctx, col.ID, []string{"Alice"})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	require.Equal(t, "Bob", triples[0].Object)
	require.Equal(t, "d1", triples[0].SourceDocID)
}

func TestAddTriplesValidation(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "graph")

	_, err := e.AddTriples(ctx, col.ID, []model.Triple{{Subject: "a", Object: "b"}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	n, err := e.AddTriples(ctx, col.ID, []model.Triple{
		{Subject: "a", Predicate: "p", Object: "b"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDeleteDocumentRetainsTriples(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t, func(o *Options) {
		o.Extractor = extraction.NewHeuristicExtractor()
	})
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "d1", Text: "Alice met Bob in Berlin"},
		{ExternalID: "d2", Text: "unrelated content about weather"},
	})
	require.NoError(t, err)

	require.NoError(t, e.DeleteDocument(ctx, col.ID, "d1"))

	hits, err := e.Query(ctx, col.ID, QueryRequest{Text: "Alice Bob Berlin", K: 10})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, "d1", h.ExternalID)
	}

	// The graph does not own its source documents: extracted triples
	// survive the document's deletion.
	triples, err := e.QueryGraph(ctx, col.ID, []string{"Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, triples)
	for _, tr := range triples {
		require.Equal(t, "d1", tr.SourceDocID)
	}

	require.ErrorIs(t, e.DeleteDocument(ctx, col.ID, "d1"), ErrNotFound)
}

func TestConcurrentQueriesDuringMutation(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "seed", Text: "seed content for querying"},
	})
	require.NoError(t, err)

	const writers, readers, rounds = 1, 4, 8
	errCh := make(chan error, (writers+readers)*rounds)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := e.AddBatch(ctx, col.ID, []AddRequest{
					{ExternalID: fmt.Sprintf("doc-%d", i), Text: fmt.Sprintf("fresh content number %d", i)},
				})
				errCh <- err
			}
		}()
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := e.Query(ctx, col.ID, QueryRequest{Text: "content", K: 5})
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	hits, err := e.Query(ctx, col.ID, QueryRequest{Text: "fresh content", K: 20})
	require.NoError(t, err)
	require.Len(t, hits, rounds+1)
}

func TestDeleteCollectionCascades(t *testing.T) {
	ctx := context.Background()
	e, docs := newTestEngine(t)
	col := mustCreate(t, docs, "docs")

	_, err := e.AddBatch(ctx, col.ID, []AddRequest{
		{ExternalID: "a", Text: "some indexed content"},
	})
	require.NoError(t, err)

	require.NoError(t, e.DeleteCollection(ctx, col.ID))

	_, err = docs.GetCollectionByID(ctx, col.ID)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.ErrorIs(t, e.DeleteCollection(ctx, col.ID), ErrNotFound)
}
