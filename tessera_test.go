package tessera

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tesseradb/tessera/blobstore"
	"github.com/tesseradb/tessera/embedding"
	"github.com/tesseradb/tessera/extraction"
	"github.com/tesseradb/tessera/model"
)

func newTestDB(t *testing.T, optFns ...Option) *DB {
	t.Helper()

	opts := append([]Option{
		WithDatabasePath(filepath.Join(t.TempDir(), "tessera.db")),
	}, optFns...)

	db, err := New(embedding.NewHashingEmbedder(64), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	col, err := db.CreateCollection(ctx, "docs", map[string]any{"owner": "search"})
	require.NoError(t, err)
	require.NotEmpty(t, col.ID)

	// Idempotent by name.
	again, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)
	require.Equal(t, col.ID, again.ID)

	got, err := db.GetCollection(ctx, "docs")
	require.NoError(t, err)
	require.Equal(t, col.ID, got.ID)

	cols, err := db.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)

	require.NoError(t, db.DeleteCollection(ctx, "docs"))
	_, err = db.GetCollection(ctx, "docs")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, db.DeleteCollection(ctx, "docs"), ErrNotFound)

	// The deleted collection behaves as if it never existed.
	_, err = db.Query(ctx, col.ID, QueryRequest{Text: "anything", K: 1})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.QueryGraph(ctx, col.ID, []string{"x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCollectionValidation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.CreateCollection(ctx, "", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIngestAndQuery(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	result, err := db.AddBatch(ctx, col.ID, []Document{
		{ExternalID: "fox", Text: "the quick brown fox jumps"},
		{ExternalID: "db", Text: "relational databases store rows"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)

	hits, err := db.Query(ctx, col.ID, QueryRequest{Text: "quick fox", K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "fox", hits[0].ExternalID)
}

func TestOperationsRequireCollection(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.AddBatch(ctx, "no-such-collection", []Document{{ExternalID: "a", Text: "x"}})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.Query(ctx, "no-such-collection", QueryRequest{Text: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.AddTriples(ctx, "no-such-collection", []model.Triple{{Subject: "a", Predicate: "p", Object: "b"}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertKeepsSingleDocument(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithDedup(0.05))

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Add(ctx, col.ID, Document{ExternalID: "a", Text: "stable content"}))
	}

	hits, err := db.Query(ctx, col.ID, QueryRequest{Text: "stable content", K: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestDedupThreshold(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithDedup(0.05))

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	require.NoError(t, db.Add(ctx, col.ID, Document{ExternalID: "a", Text: "identical duplicate text"}))

	result, err := db.AddBatch(ctx, col.ID, []Document{
		{ExternalID: "b", Text: "identical duplicate text"},
	})
	require.NoError(t, err)
	require.Zero(t, result.Inserted)
	require.Equal(t, []string{"b"}, result.Skipped)
}

func TestQueryWithFilterHonorsK(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	docs := make([]Document, 6)
	for i := range docs {
		text := "shared searchable content"
		if i%2 == 1 {
			text = "unrelated filler words entirely"
		}
		docs[i] = Document{
			ExternalID: string(rune('a' + i)),
			Text:       text,
			Metadata:   map[string]any{"tier": i % 2},
		}
	}
	_, err = db.AddBatch(ctx, col.ID, docs)
	require.NoError(t, err)

	hits, err := db.Query(ctx, col.ID, QueryRequest{
		Text:   "shared content",
		K:      2,
		Filter: map[string]any{"tier": map[string]any{"$eq": 0}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	unfiltered, err := db.Query(ctx, col.ID, QueryRequest{Text: "shared content", K: 10})
	require.NoError(t, err)
	require.Len(t, unfiltered, 6)
}

func TestQueryBadFilterOperator(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	_, err = db.Query(ctx, col.ID, QueryRequest{
		Text:   "x",
		Filter: map[string]any{"f": map[string]any{"$regex": "a.*"}},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGraphRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithExtractor(extraction.NewHeuristicExtractor()))

	col, err := db.CreateCollection(ctx, "kb", nil)
	require.NoError(t, err)

	result, err := db.AddBatch(ctx, col.ID, []Document{
		{ExternalID: "d1", Text: "Alice collaborates with Bob."},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.TriplesExtracted)

	n, err := db.AddTriples(ctx, col.ID, []model.Triple{
		{Subject: "Bob", Predicate: "works_at", Object: "Acme", Weight: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	triples, err := db.QueryGraph(ctx, col.ID, []string{"Bob"})
	require.NoError(t, err)
	require.Len(t, triples, 2)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	require.NoError(t, db.Add(ctx, col.ID, Document{ExternalID: "a", Text: "removable content"}))
	require.NoError(t, db.DeleteDocument(ctx, col.ID, "a"))
	require.ErrorIs(t, db.DeleteDocument(ctx, col.ID, "a"), ErrNotFound)

	hits, err := db.Query(ctx, col.ID, QueryRequest{Text: "removable content", K: 5})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestBasicMetricsCollector(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	db := newTestDB(t, WithMetricsCollector(metrics))

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	_, err = db.AddBatch(ctx, col.ID, []Document{{ExternalID: "a", Text: "text"}})
	require.NoError(t, err)
	_, err = db.Query(ctx, col.ID, QueryRequest{Text: "text", K: 1})
	require.NoError(t, err)
	_, err = db.Query(ctx, "missing", QueryRequest{Text: "text", K: 1})
	require.Error(t, err)

	stats := metrics.GetStats()
	require.Equal(t, int64(1), stats.AddBatchCount)
	require.Equal(t, int64(1), stats.DocumentsInserted)
	require.Equal(t, int64(2), stats.QueryCount)
	require.Equal(t, int64(1), stats.QueryErrors)
}

func TestPrometheusCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordAddBatch(2, 1, 0, nil)
	c.RecordQuery(5, 3, 0, nil)
	c.RecordDelete(0, nil)
	c.RecordGraphQuery(0, context.Canceled)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tessera.db")

	embedder := embedding.NewHashingEmbedder(64)
	store := blobstore.NewMemoryStore()

	db, err := New(embedder, WithDatabasePath(dbPath), WithBlobStore(store))
	require.NoError(t, err)

	col, err := db.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)
	require.NoError(t, db.Add(ctx, col.ID, Document{ExternalID: "a", Text: "durable content"}))
	require.NoError(t, db.Close())

	db2, err := New(embedder, WithDatabasePath(dbPath), WithBlobStore(store))
	require.NoError(t, err)
	defer db2.Close()

	hits, err := db2.Query(ctx, col.ID, QueryRequest{Text: "durable content", K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a", hits[0].ExternalID)
}
