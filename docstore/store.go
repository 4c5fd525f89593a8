// Package docstore persists collections, documents, triples and the
// full-text index in a single SQLite database.
//
// SQLite is the system of record: a document exists once its row is
// committed, and the vector index only ever references committed rows.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tesseradb/tessera/codec"
	"github.com/tesseradb/tessera/lexical"
	"github.com/tesseradb/tessera/metadata"
	"github.com/tesseradb/tessera/model"
)

// ErrNotFound is returned when a collection or document does not exist.
var ErrNotFound = errors.New("not found")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
		external_id   TEXT NOT NULL,
		internal_key  INTEGER NOT NULL,
		text          TEXT NOT NULL,
		metadata      TEXT NOT NULL DEFAULT '{}',
		updated_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (collection_id, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_internal_key
		ON documents(collection_id, internal_key)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		text,
		collection_id UNINDEXED,
		internal_key UNINDEXED
	)`,
	`CREATE TABLE IF NOT EXISTS triples (
		collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
		subject       TEXT NOT NULL,
		predicate     TEXT NOT NULL,
		object        TEXT NOT NULL,
		source_doc_id TEXT NOT NULL DEFAULT '',
		weight        REAL NOT NULL DEFAULT 1.0,
		updated_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (collection_id, subject, predicate, object)
	)`,
}

// Options configures a Store.
type Options struct {
	// Codec encodes metadata columns. Defaults to codec.Default.
	Codec codec.Codec
}

// Store is the SQLite-backed document, collection and triple store.
type Store struct {
	db    *sql.DB
	codec codec.Codec
	path  string
}

// Open opens (or creates) the store at the given database path.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	// WAL keeps readers unblocked during ingest; the busy timeout covers
	// short write bursts from concurrent collections.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return &Store{db: db, codec: opts.Codec, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) marshalMetadata(d metadata.Document) (string, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	b, err := s.codec.Marshal(d.ToAnyMap())
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func (s *Store) unmarshalMetadata(raw string) (metadata.Document, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := s.codec.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return metadata.DocumentFromAny(m)
}

// CreateCollection registers a collection by name. Creation is idempotent:
// racing a concurrent creator or re-creating an existing name returns the
// already registered collection.
func (s *Store) CreateCollection(ctx context.Context, name string, meta metadata.Document) (model.Collection, error) {
	metaJSON, err := s.marshalMetadata(meta)
	if err != nil {
		return model.Collection{}, err
	}

	col := model.Collection{
		ID:        uuid.NewString(),
		Name:      name,
		Metadata:  meta.Clone(),
		CreatedAt: time.Now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, metadata, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		col.ID, name, metaJSON, col.CreatedAt,
	)
	if err != nil {
		return model.Collection{}, fmt.Errorf("creating collection: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Name already taken; hand back the existing record.
		return s.GetCollection(ctx, name)
	}
	return col, nil
}

// GetCollection looks up a collection by name.
func (s *Store) GetCollection(ctx context.Context, name string) (model.Collection, error) {
	return s.scanCollection(s.db.QueryRowContext(ctx,
		`SELECT id, name, metadata, created_at FROM collections WHERE name = ?`, name))
}

// GetCollectionByID looks up a collection by id.
func (s *Store) GetCollectionByID(ctx context.Context, id string) (model.Collection, error) {
	return s.scanCollection(s.db.QueryRowContext(ctx,
		`SELECT id, name, metadata, created_at FROM collections WHERE id = ?`, id))
}

func (s *Store) scanCollection(row *sql.Row) (model.Collection, error) {
	var col model.Collection
	var metaJSON string
	err := row.Scan(&col.ID, &col.Name, &metaJSON, &col.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Collection{}, ErrNotFound
	}
	if err != nil {
		return model.Collection{}, fmt.Errorf("reading collection: %w", err)
	}

	col.Metadata, err = s.unmarshalMetadata(metaJSON)
	if err != nil {
		return model.Collection{}, err
	}
	return col, nil
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]model.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, metadata, created_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var cols []model.Collection
	for rows.Next() {
		var col model.Collection
		var metaJSON string
		if err := rows.Scan(&col.ID, &col.Name, &metaJSON, &col.CreatedAt); err != nil {
			return nil, fmt.Errorf("reading collection: %w", err)
		}
		if col.Metadata, err = s.unmarshalMetadata(metaJSON); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// DeleteCollection removes a collection and everything under it: documents,
// full-text rows and triples, in one transaction.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	// The FTS table has no foreign key; clear it explicitly.
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("deleting full-text rows: %w", err)
	}

	return tx.Commit()
}

// UpsertDocument writes a document row and its full-text row in one
// transaction. Re-upserting an external id replaces text and metadata.
func (s *Store) UpsertDocument(ctx context.Context, collectionID string, doc model.Document) error {
	metaJSON, err := s.marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (collection_id, external_id, internal_key, text, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection_id, external_id) DO UPDATE SET
			internal_key = excluded.internal_key,
			text = excluded.text,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		collectionID, doc.ExternalID, int64(doc.InternalKey), doc.Text, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE collection_id = ? AND internal_key = ?`,
		collectionID, int64(doc.InternalKey),
	); err != nil {
		return fmt.Errorf("clearing full-text row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (text, collection_id, internal_key) VALUES (?, ?, ?)`,
		doc.Text, collectionID, int64(doc.InternalKey),
	); err != nil {
		return fmt.Errorf("writing full-text row: %w", err)
	}

	return tx.Commit()
}

// GetDocument looks up a document by external id.
func (s *Store) GetDocument(ctx context.Context, collectionID, externalID string) (model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT external_id, internal_key, text, metadata FROM documents
		 WHERE collection_id = ? AND external_id = ?`,
		collectionID, externalID,
	)

	var doc model.Document
	var key int64
	var metaJSON string
	err := row.Scan(&doc.ExternalID, &key, &doc.Text, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, ErrNotFound
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("reading document: %w", err)
	}

	doc.InternalKey = model.Key(key)
	doc.Metadata, err = s.unmarshalMetadata(metaJSON)
	if err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

// GetDocumentsByKeys resolves internal keys back to full documents.
// Unknown keys are simply absent from the result.
func (s *Store) GetDocumentsByKeys(ctx context.Context, collectionID string, keys []model.Key) (map[model.Key]model.Document, error) {
	if len(keys) == 0 {
		return map[model.Key]model.Document{}, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, collectionID)
	for i, k := range keys {
		placeholders[i] = "?"
		args = append(args, int64(k))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, internal_key, text, metadata FROM documents
		 WHERE collection_id = ? AND internal_key IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[model.Key]model.Document, len(keys))
	for rows.Next() {
		var doc model.Document
		var key int64
		var metaJSON string
		if err := rows.Scan(&doc.ExternalID, &key, &doc.Text, &metaJSON); err != nil {
			return nil, fmt.Errorf("reading document: %w", err)
		}
		doc.InternalKey = model.Key(key)
		if doc.Metadata, err = s.unmarshalMetadata(metaJSON); err != nil {
			return nil, err
		}
		docs[doc.InternalKey] = doc
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and its full-text row, returning the
// internal key so the caller can tombstone the vector entry.
func (s *Store) DeleteDocument(ctx context.Context, collectionID, externalID string) (model.Key, error) {
	doc, err := s.GetDocument(ctx, collectionID, externalID)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection_id = ? AND external_id = ?`,
		collectionID, externalID,
	); err != nil {
		return 0, fmt.Errorf("deleting document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE collection_id = ? AND internal_key = ?`,
		collectionID, int64(doc.InternalKey),
	); err != nil {
		return 0, fmt.Errorf("deleting full-text row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return doc.InternalKey, nil
}

// ScanMetadata walks every document's external id and metadata in a
// collection, for predicate evaluation paths that cannot prune by index.
// Returning false from fn stops the scan.
func (s *Store) ScanMetadata(ctx context.Context, collectionID string, fn func(externalID string, meta metadata.Document) bool) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, metadata FROM documents WHERE collection_id = ?`, collectionID)
	if err != nil {
		return fmt.Errorf("scanning metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var externalID, metaJSON string
		if err := rows.Scan(&externalID, &metaJSON); err != nil {
			return fmt.Errorf("scanning metadata: %w", err)
		}
		meta, err := s.unmarshalMetadata(metaJSON)
		if err != nil {
			return err
		}
		if !fn(externalID, meta) {
			return nil
		}
	}
	return rows.Err()
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(ctx context.Context, collectionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection_id = ?`, collectionID,
	).Scan(&n)
	return n, err
}

// SearchKeyword runs an FTS5 match ranked by bm25 and returns up to k
// candidates. Scores are negated bm25 ranks so that higher is better, in
// line with the lexical.Searcher contract.
func (s *Store) SearchKeyword(ctx context.Context, collectionID, query string, k int) ([]model.Candidate, error) {
	match := buildMatchQuery(query)
	if match == "" || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT internal_key, bm25(documents_fts) FROM documents_fts
		 WHERE documents_fts MATCH ? AND collection_id = ?
		 ORDER BY bm25(documents_fts) LIMIT ?`,
		match, collectionID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var key int64
		var rank float64
		if err := rows.Scan(&key, &rank); err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		candidates = append(candidates, model.Candidate{Key: model.Key(key), Score: float32(-rank)})
	}
	return candidates, rows.Err()
}

// Lexical returns a lexical.Searcher over the collection's full-text rows.
// The returned searcher is read-only; rows are maintained by UpsertDocument
// and DeleteDocument.
func (s *Store) Lexical(collectionID string) lexical.Searcher {
	return ftsSearcher{store: s, collectionID: collectionID}
}

type ftsSearcher struct {
	store        *Store
	collectionID string
}

func (f ftsSearcher) Search(ctx context.Context, text string, k int) ([]model.Candidate, error) {
	return f.store.SearchKeyword(ctx, f.collectionID, text, k)
}

// buildMatchQuery turns free text into a safe FTS5 OR-query. Each token is
// quoted so user input can never be parsed as FTS syntax.
func buildMatchQuery(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return ""
	}

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// UpsertTriples writes triples with last-write-wins semantics on the
// (subject, predicate, object) identity. Returns the number of triples
// written.
func (s *Store) UpsertTriples(ctx context.Context, collectionID string, triples []model.Triple) (int, error) {
	if len(triples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting triple upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO triples (collection_id, subject, predicate, object, source_doc_id, weight, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection_id, subject, predicate, object) DO UPDATE SET
			source_doc_id = excluded.source_doc_id,
			weight = excluded.weight,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, fmt.Errorf("preparing triple upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, tr := range triples {
		weight := tr.Weight
		if weight == 0 {
			weight = 1.0
		}
		if _, err := stmt.ExecContext(ctx, collectionID, tr.Subject, tr.Predicate, tr.Object, tr.SourceDocID, weight, now); err != nil {
			return 0, fmt.Errorf("upserting triple: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(triples), nil
}

// QueryTriples returns all triples where the subject or object matches one
// of the given entities (a 1-hop neighbourhood query).
func (s *Store) QueryTriples(ctx context.Context, collectionID string, entities []string) ([]model.Triple, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(entities))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, 2*len(entities)+1)
	args = append(args, collectionID)
	for _, e := range entities {
		args = append(args, e)
	}
	for _, e := range entities {
		args = append(args, e)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, predicate, object, source_doc_id, weight FROM triples
		 WHERE collection_id = ? AND (subject IN (`+placeholders+`) OR object IN (`+placeholders+`))
		 ORDER BY subject, predicate, object`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying triples: %w", err)
	}
	defer rows.Close()

	var triples []model.Triple
	for rows.Next() {
		var tr model.Triple
		if err := rows.Scan(&tr.Subject, &tr.Predicate, &tr.Object, &tr.SourceDocID, &tr.Weight); err != nil {
			return nil, fmt.Errorf("reading triple: %w", err)
		}
		triples = append(triples, tr)
	}
	return triples, rows.Err()
}

// DeleteTriplesBySource removes triples extracted from a given document.
// Document deletion does not call this; triples outlive their source and are
// pruned only on explicit request or collection delete.
func (s *Store) DeleteTriplesBySource(ctx context.Context, collectionID, sourceDocID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM triples WHERE collection_id = ? AND source_doc_id = ?`,
		collectionID, sourceDocID,
	)
	return err
}
