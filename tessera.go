// Package tessera is a multi-tenant hybrid search database: per-collection
// vector indexes persisted as blob artifacts, a SQLite document store with
// full-text search, metadata filtering, and a lightweight knowledge graph.
package tessera

import (
	"context"
	"fmt"
	"time"

	"github.com/tesseradb/tessera/blobstore"
	"github.com/tesseradb/tessera/codec"
	"github.com/tesseradb/tessera/docstore"
	"github.com/tesseradb/tessera/embedding"
	"github.com/tesseradb/tessera/engine"
	"github.com/tesseradb/tessera/index"
	"github.com/tesseradb/tessera/metadata"
	"github.com/tesseradb/tessera/model"
)

// Document is a single document to ingest.
type Document = engine.AddRequest

// AddBatchResult reports the outcome of a batch ingest.
type AddBatchResult = engine.AddResult

// QueryRequest describes a hybrid query.
type QueryRequest = engine.QueryRequest

// BatchOptions override the configured ingest policy for one AddBatch call.
type BatchOptions = engine.BatchOptions

// DB is the tessera database handle. All methods are safe for concurrent
// use; writes to the same collection are serialized.
type DB struct {
	docs    *docstore.Store
	engine  *engine.Engine
	logger  *Logger
	metrics MetricsCollector
}

// New opens a DB backed by the given embedder. The embedder determines the
// vector dimensionality of every collection index.
func New(embedder embedding.Embedder, optFns ...Option) (*DB, error) {
	opts := options{
		databasePath:     "tessera.db",
		codec:            codec.Default,
		compression:      index.CompressionZstd,
		dedupThreshold:   engine.DefaultDedupThreshold,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.store == nil {
		opts.store = blobstore.NewMemoryStore()
	}

	docs, err := docstore.Open(opts.databasePath)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	mgr := index.NewManager(opts.store, embedder.Dimension(), func(o *index.Options) {
		o.Codec = opts.codec
		o.Compression = opts.compression
		o.Logger = opts.logger.Logger
		o.HNSW = opts.hnswOptions
	})

	eng := engine.New(docs, mgr, embedder, func(o *engine.Options) {
		o.Extractor = opts.extractor
		o.DedupEnabled = opts.dedupEnabled
		o.DedupThreshold = opts.dedupThreshold
		o.Logger = opts.logger.Logger
	})

	return &DB{
		docs:    docs,
		engine:  eng,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}, nil
}

// Close releases the document store. Index artifacts are already flushed
// synchronously on every mutation, so Close has nothing to write.
func (db *DB) Close() error {
	return db.docs.Close()
}

// CreateCollection registers a collection by name. Creating an existing name
// returns the existing collection.
func (db *DB) CreateCollection(ctx context.Context, name string, meta map[string]any) (model.Collection, error) {
	if name == "" {
		return model.Collection{}, fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}

	doc, err := metadata.DocumentFromAny(meta)
	if err != nil {
		return model.Collection{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	col, err := db.docs.CreateCollection(ctx, name, doc)
	err = translateError(err)
	db.logger.LogCreateCollection(ctx, name, col.ID, err)
	return col, err
}

// GetCollection looks up a collection by name.
func (db *DB) GetCollection(ctx context.Context, name string) (model.Collection, error) {
	col, err := db.docs.GetCollection(ctx, name)
	return col, translateError(err)
}

// ListCollections returns all collections ordered by name.
func (db *DB) ListCollections(ctx context.Context) ([]model.Collection, error) {
	cols, err := db.docs.ListCollections(ctx)
	return cols, translateError(err)
}

// DeleteCollection removes a collection by name along with its documents,
// full-text rows, triples and vector index.
func (db *DB) DeleteCollection(ctx context.Context, name string) error {
	col, err := db.docs.GetCollection(ctx, name)
	if err != nil {
		err = translateError(err)
		db.logger.LogDeleteCollection(ctx, name, err)
		return err
	}

	err = translateError(db.engine.DeleteCollection(ctx, col.ID))
	db.logger.LogDeleteCollection(ctx, col.ID, err)
	return err
}

// AddBatch ingests documents into a collection. Each document is embedded,
// checked against the duplicate policy, persisted, indexed for vector and
// keyword retrieval, and mined for graph triples. Option functions override
// the configured dedup and extraction policy for this call only.
func (db *DB) AddBatch(ctx context.Context, collectionID string, docs []Document, optFns ...func(o *BatchOptions)) (AddBatchResult, error) {
	start := time.Now()

	if err := db.checkCollection(ctx, collectionID); err != nil {
		db.metrics.RecordAddBatch(0, 0, time.Since(start), err)
		db.logger.LogAddBatch(ctx, collectionID, 0, 0, 0, err)
		return AddBatchResult{}, err
	}

	result, err := db.engine.AddBatch(ctx, collectionID, docs, optFns...)
	err = translateError(err)

	db.metrics.RecordAddBatch(result.Inserted, len(result.Skipped), time.Since(start), err)
	db.logger.LogAddBatch(ctx, collectionID, result.Inserted, len(result.Skipped), result.TriplesExtracted, err)
	return result, err
}

// Add ingests a single document. It is AddBatch with a batch of one.
func (db *DB) Add(ctx context.Context, collectionID string, doc Document) error {
	_, err := db.AddBatch(ctx, collectionID, []Document{doc})
	return err
}

// Query runs a hybrid (vector + keyword) query with optional metadata
// filtering and returns the top results ranked by fused score.
func (db *DB) Query(ctx context.Context, collectionID string, req QueryRequest) ([]model.SearchHit, error) {
	start := time.Now()

	if err := db.checkCollection(ctx, collectionID); err != nil {
		db.metrics.RecordQuery(req.K, 0, time.Since(start), err)
		db.logger.LogQuery(ctx, collectionID, req.K, 0, err)
		return nil, err
	}

	hits, err := db.engine.Query(ctx, collectionID, req)
	err = translateError(err)

	db.metrics.RecordQuery(req.K, len(hits), time.Since(start), err)
	db.logger.LogQuery(ctx, collectionID, req.K, len(hits), err)
	return hits, err
}

// DeleteDocument removes a document's stored row, full-text entry and
// vector. Triples extracted from the document survive; the graph is cleared
// only when the collection is deleted.
func (db *DB) DeleteDocument(ctx context.Context, collectionID, externalID string) error {
	start := time.Now()

	err := translateError(db.engine.DeleteDocument(ctx, collectionID, externalID))
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDeleteDocument(ctx, collectionID, externalID, err)
	return err
}

// AddTriples writes caller-provided triples into the collection graph.
// Triples sharing (subject, predicate, object) with an existing one replace
// it.
func (db *DB) AddTriples(ctx context.Context, collectionID string, triples []model.Triple) (int, error) {
	if err := db.checkCollection(ctx, collectionID); err != nil {
		return 0, err
	}
	n, err := db.engine.AddTriples(ctx, collectionID, triples)
	return n, translateError(err)
}

// QueryGraph returns all triples whose subject or object matches one of the
// given entities.
func (db *DB) QueryGraph(ctx context.Context, collectionID string, entities []string) ([]model.Triple, error) {
	start := time.Now()

	if err := db.checkCollection(ctx, collectionID); err != nil {
		db.metrics.RecordGraphQuery(time.Since(start), err)
		return nil, err
	}

	triples, err := db.engine.QueryGraph(ctx, collectionID, entities)
	err = translateError(err)

	db.metrics.RecordGraphQuery(time.Since(start), err)
	db.logger.LogGraphQuery(ctx, collectionID, len(entities), len(triples), err)
	return triples, err
}

func (db *DB) checkCollection(ctx context.Context, collectionID string) error {
	_, err := db.docs.GetCollectionByID(ctx, collectionID)
	return translateError(err)
}
