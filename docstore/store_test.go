package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tesseradb/tessera/metadata"
	"github.com/tesseradb/tessera/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tessera.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateCollectionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateCollection(ctx, "docs", metadata.Document{"team": metadata.String("search")})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, "docs", first.Name)

	second, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	team, ok := second.Metadata["team"].AsString()
	require.True(t, ok)
	require.Equal(t, "search", team)
}

func TestGetCollectionNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetCollection(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetCollectionByID(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListCollections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateCollection(ctx, "beta", nil)
	require.NoError(t, err)
	_, err = s.CreateCollection(ctx, "alpha", nil)
	require.NoError(t, err)

	cols, err := s.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	require.Equal(t, "alpha", cols[0].Name)
	require.Equal(t, "beta", cols[1].Name)
}

func TestUpsertAndGetDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	key := model.DeriveKey(col.ID, "doc-1")
	doc := model.Document{
		ExternalID:  "doc-1",
		InternalKey: key,
		Text:        "the quick brown fox",
		Metadata:    metadata.Document{"lang": metadata.String("en"), "pages": metadata.Int(12)},
	}
	require.NoError(t, s.UpsertDocument(ctx, col.ID, doc))

	got, err := s.GetDocument(ctx, col.ID, "doc-1")
	require.NoError(t, err)
	require.Equal(t, key, got.InternalKey)
	require.Equal(t, "the quick brown fox", got.Text)
	require.Equal(t, metadata.String("en"), got.Metadata["lang"])
	require.Equal(t, metadata.Int(12), got.Metadata["pages"])

	// Re-upserting replaces text and metadata under the same key.
	doc.Text = "updated text"
	doc.Metadata = metadata.Document{"lang": metadata.String("de")}
	require.NoError(t, s.UpsertDocument(ctx, col.ID, doc))

	got, err = s.GetDocument(ctx, col.ID, "doc-1")
	require.NoError(t, err)
	require.Equal(t, "updated text", got.Text)
	require.Equal(t, metadata.String("de"), got.Metadata["lang"])

	n, err := s.CountDocuments(ctx, col.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGetDocumentsByKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	keys := make([]model.Key, 3)
	for i, id := range []string{"a", "b", "c"} {
		keys[i] = model.DeriveKey(col.ID, id)
		require.NoError(t, s.UpsertDocument(ctx, col.ID, model.Document{
			ExternalID:  id,
			InternalKey: keys[i],
			Text:        "text " + id,
		}))
	}

	docs, err := s.GetDocumentsByKeys(ctx, col.ID, []model.Key{keys[0], keys[2], 12345})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "a", docs[keys[0]].ExternalID)
	require.Equal(t, "c", docs[keys[2]].ExternalID)

	docs, err = s.GetDocumentsByKeys(ctx, col.ID, nil)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestScanMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.UpsertDocument(ctx, col.ID, model.Document{
			ExternalID:  id,
			InternalKey: model.DeriveKey(col.ID, id),
			Text:        "text",
			Metadata:    metadata.Document{"n": metadata.Int(int64(i))},
		}))
	}

	seen := map[string]int64{}
	require.NoError(t, s.ScanMetadata(ctx, col.ID, func(externalID string, meta metadata.Document) bool {
		n, _ := meta["n"].AsInt64()
		seen[externalID] = n
		return true
	}))
	require.Equal(t, map[string]int64{"a": 0, "b": 1, "c": 2}, seen)

	// Early stop.
	var visited int
	require.NoError(t, s.ScanMetadata(ctx, col.ID, func(string, metadata.Document) bool {
		visited++
		return false
	}))
	require.Equal(t, 1, visited)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	key := model.DeriveKey(col.ID, "doc-1")
	require.NoError(t, s.UpsertDocument(ctx, col.ID, model.Document{
		ExternalID: "doc-1", InternalKey: key, Text: "ephemeral content",
	}))

	gotKey, err := s.DeleteDocument(ctx, col.ID, "doc-1")
	require.NoError(t, err)
	require.Equal(t, key, gotKey)

	_, err = s.GetDocument(ctx, col.ID, "doc-1")
	require.ErrorIs(t, err, ErrNotFound)

	// The full-text row is gone with the document.
	candidates, err := s.SearchKeyword(ctx, col.ID, "ephemeral", 10)
	require.NoError(t, err)
	require.Empty(t, candidates)

	_, err = s.DeleteDocument(ctx, col.ID, "doc-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchKeyword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	texts := map[string]string{
		"a": "the quick brown fox jumps",
		"b": "lazy dogs sleep all day",
		"c": "quick quick foxes everywhere",
	}
	for id, text := range texts {
		require.NoError(t, s.UpsertDocument(ctx, col.ID, model.Document{
			ExternalID: id, InternalKey: model.DeriveKey(col.ID, id), Text: text,
		}))
	}

	candidates, err := s.SearchKeyword(ctx, col.ID, "quick fox", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	for i := 1; i < len(candidates); i++ {
		require.GreaterOrEqual(t, candidates[i-1].Score, candidates[i].Score)
	}

	// Tokens are quoted, so FTS syntax in the query cannot break it.
	_, err = s.SearchKeyword(ctx, col.ID, `quick AND " (fox`, 10)
	require.NoError(t, err)

	candidates, err = s.SearchKeyword(ctx, col.ID, "   ", 10)
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestSearchKeywordScopedToCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	colA, err := s.CreateCollection(ctx, "a", nil)
	require.NoError(t, err)
	colB, err := s.CreateCollection(ctx, "b", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpsertDocument(ctx, colA.ID, model.Document{
		ExternalID: "x", InternalKey: model.DeriveKey(colA.ID, "x"), Text: "shared token",
	}))
	require.NoError(t, s.UpsertDocument(ctx, colB.ID, model.Document{
		ExternalID: "y", InternalKey: model.DeriveKey(colB.ID, "y"), Text: "shared token",
	}))

	candidates, err := s.SearchKeyword(ctx, colA.ID, "shared", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, model.DeriveKey(colA.ID, "x"), candidates[0].Key)
}

func TestTriplesUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "graph", nil)
	require.NoError(t, err)

	n, err := s.UpsertTriples(ctx, col.ID, []model.Triple{
		{Subject: "alice", Predicate: "knows", Object: "bob", SourceDocID: "d1", Weight: 0.8},
		{Subject: "bob", Predicate: "works_at", Object: "acme", SourceDocID: "d1", Weight: 0.8},
		{Subject: "carol", Predicate: "knows", Object: "dave", SourceDocID: "d2", Weight: 0.8},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Subject or object match, 1-hop.
	triples, err := s.QueryTriples(ctx, col.ID, []string{"bob"})
	require.NoError(t, err)
	require.Len(t, triples, 2)

	// Last write wins on the same (subject, predicate, object).
	_, err = s.UpsertTriples(ctx, col.ID, []model.Triple{
		{Subject: "alice", Predicate: "knows", Object: "bob", SourceDocID: "d9", Weight: 0.5},
	})
	require.NoError(t, err)

	triples, err = s.QueryTriples(ctx, col.ID, []string{"alice"})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	require.Equal(t, "d9", triples[0].SourceDocID)
	require.InDelta(t, 0.5, triples[0].Weight, 1e-9)

	triples, err = s.QueryTriples(ctx, col.ID, nil)
	require.NoError(t, err)
	require.Empty(t, triples)
}

func TestDeleteTriplesBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "graph", nil)
	require.NoError(t, err)

	_, err = s.UpsertTriples(ctx, col.ID, []model.Triple{
		{Subject: "a", Predicate: "p", Object: "b", SourceDocID: "d1"},
		{Subject: "c", Predicate: "p", Object: "d", SourceDocID: "d2"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTriplesBySource(ctx, col.ID, "d1"))

	triples, err := s.QueryTriples(ctx, col.ID, []string{"a", "c"})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	require.Equal(t, "c", triples[0].Subject)
}

func TestDeleteCollectionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	col, err := s.CreateCollection(ctx, "docs", nil)
	require.NoError(t, err)

	key := model.DeriveKey(col.ID, "doc-1")
	require.NoError(t, s.UpsertDocument(ctx, col.ID, model.Document{
		ExternalID: "doc-1", InternalKey: key, Text: "cascading content",
	}))
	_, err = s.UpsertTriples(ctx, col.ID, []model.Triple{
		{Subject: "a", Predicate: "p", Object: "b", SourceDocID: "doc-1"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCollection(ctx, col.ID))

	_, err = s.GetCollectionByID(ctx, col.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDocument(ctx, col.ID, "doc-1")
	require.ErrorIs(t, err, ErrNotFound)

	triples, err := s.QueryTriples(ctx, col.ID, []string{"a"})
	require.NoError(t, err)
	require.Empty(t, triples)

	candidates, err := s.SearchKeyword(ctx, col.ID, "cascading", 10)
	require.NoError(t, err)
	require.Empty(t, candidates)

	require.ErrorIs(t, s.DeleteCollection(ctx, col.ID), ErrNotFound)
}
