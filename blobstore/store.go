// Package blobstore abstracts where index artifacts live.
//
// The engine reads and writes whole artifacts, so the interface is
// deliberately coarse: byte-slice Get/Put rather than streaming handles.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing immutable artifact blobs.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get reads a blob in full. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes a blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error

	// Exists reports whether a blob exists without reading it.
	Exists(ctx context.Context, name string) (bool, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
