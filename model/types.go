package model

import (
	"time"

	"github.com/tesseradb/tessera/metadata"
)

// Key is the engine-internal identifier for a document within a collection.
// It is derived deterministically from the collection id and the external
// document id, and is always < 2^63 so it survives signed integer round-trips
// in storage backends.
type Key uint64

// Collection is a registered tenant namespace. Documents, vectors, keyword
// postings and triples all hang off a collection id.
type Collection struct {
	ID        string
	Name      string
	Metadata  metadata.Document
	CreatedAt time.Time
}

// Document is a stored record: the caller-supplied id and text plus typed
// metadata. InternalKey is filled in by the engine.
type Document struct {
	ExternalID  string
	Text        string
	Metadata    metadata.Document
	InternalKey Key
}

// Triple is a knowledge-graph edge scoped to a collection.
// SourceDocID records which document the triple was extracted from and may be
// empty for triples supplied directly by the caller.
type Triple struct {
	Subject     string
	Predicate   string
	Object      string
	SourceDocID string
	Weight      float64
}

// SearchHit is a single fused query result.
type SearchHit struct {
	ExternalID string
	Text       string
	Metadata   metadata.Document
	Score      float64
}

// Candidate is an intermediate ranked result from a single retrieval leg
// (vector or keyword) before fusion.
type Candidate struct {
	Key   Key
	Score float32
}
