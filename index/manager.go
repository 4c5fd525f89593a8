// Package index manages the per-collection vector index lifecycle: lazy
// loading from blob storage, synchronous flushes on mutation, and the
// self-describing artifact format.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tesseradb/tessera/blobstore"
	"github.com/tesseradb/tessera/codec"
	"github.com/tesseradb/tessera/index/hnsw"
	"github.com/tesseradb/tessera/model"
)

// ErrUnavailable indicates the backing blob store could not be reached.
var ErrUnavailable = errors.New("index storage unavailable")

// State is the lifecycle state of a collection's index handle.
type State uint8

const (
	// StateUninitialized means no load has been attempted yet.
	StateUninitialized State = iota
	// StateLoading means a load is in flight.
	StateLoading
	// StateReady means the index is resident and usable.
	StateReady
	// StateFailed means the last load attempt failed.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	// Codec encodes artifact manifests. Defaults to codec.Default.
	Codec codec.Codec

	// Compression names the artifact compression ("zstd", "lz4", "none").
	Compression string

	// Logger records load and flush activity. Nil discards.
	Logger *slog.Logger

	// HNSW carries graph construction parameters for newly created indexes.
	HNSW []func(o *hnsw.Options)
}

// Manager owns one lazily loaded index per collection.
//
// Load order on first access: blob store, then an empty graph if the store
// has no artifact. Concurrent first accesses are collapsed into a single
// load. A failed load is not cached; the next access retries.
type Manager struct {
	store       blobstore.BlobStore
	dimension   int
	codec       codec.Codec
	compression string
	logger      *slog.Logger
	hnswOpts    []func(o *hnsw.Options)

	mu      sync.RWMutex
	handles map[string]*handle
	group   singleflight.Group
}

type handle struct {
	mu    sync.Mutex
	state State
	idx   *hnsw.Index
}

// NewManager creates a Manager that persists artifacts to store. dimension is
// the vector dimension for newly created indexes.
func NewManager(store blobstore.BlobStore, dimension int, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Codec:       codec.Default,
		Compression: CompressionZstd,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		store:       store,
		dimension:   dimension,
		codec:       opts.Codec,
		compression: opts.Compression,
		logger:      opts.Logger,
		hnswOpts:    opts.HNSW,
		handles:     make(map[string]*handle),
	}
}

// ArtifactName returns the blob name for a collection's index artifact.
func ArtifactName(collectionID string) string {
	return collectionID + "/index.bin"
}

// State returns the lifecycle state of a collection's handle.
func (m *Manager) State(collectionID string) State {
	m.mu.RLock()
	h, ok := m.handles[collectionID]
	m.mu.RUnlock()
	if !ok {
		return StateUninitialized
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Get returns the resident index for a collection, loading it on first
// access. Missing artifacts initialize an empty index.
func (m *Manager) Get(ctx context.Context, collectionID string) (*hnsw.Index, error) {
	m.mu.RLock()
	h, ok := m.handles[collectionID]
	m.mu.RUnlock()
	if ok {
		// The loader publishes state under h.mu, so h.mu must not be held
		// while joining the flight below.
		h.mu.Lock()
		state, idx := h.state, h.idx
		h.mu.Unlock()
		if state == StateReady {
			return idx, nil
		}
	}

	v, err, _ := m.group.Do(collectionID, func() (any, error) {
		return m.load(ctx, collectionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*hnsw.Index), nil
}

func (m *Manager) load(ctx context.Context, collectionID string) (*hnsw.Index, error) {
	h := &handle{state: StateLoading}
	m.mu.Lock()
	m.handles[collectionID] = h
	m.mu.Unlock()

	fail := func(err error) (*hnsw.Index, error) {
		h.mu.Lock()
		h.state = StateFailed
		h.mu.Unlock()

		// Drop the failed handle so the next access retries the load.
		m.mu.Lock()
		if m.handles[collectionID] == h {
			delete(m.handles, collectionID)
		}
		m.mu.Unlock()
		return nil, err
	}

	data, err := m.store.Get(ctx, ArtifactName(collectionID))
	switch {
	case err == nil:
		idx, manifest, err := DecodeArtifact(data)
		if err != nil {
			return fail(err)
		}
		m.logger.DebugContext(ctx, "index loaded",
			"collection", collectionID,
			"count", manifest.Count,
			"dimension", manifest.Dimension,
		)

		h.mu.Lock()
		h.state = StateReady
		h.idx = idx
		h.mu.Unlock()
		return idx, nil

	case errors.Is(err, blobstore.ErrNotFound):
		idx, err := hnsw.New(m.dimension, m.hnswOpts...)
		if err != nil {
			return fail(err)
		}
		m.logger.DebugContext(ctx, "index initialized empty", "collection", collectionID)

		h.mu.Lock()
		h.state = StateReady
		h.idx = idx
		h.mu.Unlock()
		return idx, nil

	default:
		m.logger.ErrorContext(ctx, "index load failed",
			"collection", collectionID,
			"error", err,
		)
		return fail(fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
}

// AddBatch adds all entries to the collection's index, then flushes the
// artifact once. The flush to the primary store is synchronous; if the store
// is tiered, cold mirroring follows the tier's own policy.
func (m *Manager) AddBatch(ctx context.Context, collectionID string, keys []model.Key, vectors [][]float32) error {
	idx, err := m.Get(ctx, collectionID)
	if err != nil {
		return err
	}

	for i, key := range keys {
		if err := idx.Add(key, vectors[i]); err != nil {
			return err
		}
	}

	return m.flush(ctx, collectionID, idx)
}

// Add adds a single entry and flushes.
func (m *Manager) Add(ctx context.Context, collectionID string, key model.Key, vector []float32) error {
	return m.AddBatch(ctx, collectionID, []model.Key{key}, [][]float32{vector})
}

// Delete tombstones a key and flushes if anything changed.
func (m *Manager) Delete(ctx context.Context, collectionID string, key model.Key) error {
	idx, err := m.Get(ctx, collectionID)
	if err != nil {
		return err
	}

	if !idx.Delete(key) {
		return nil
	}
	return m.flush(ctx, collectionID, idx)
}

// Search runs a nearest-neighbour query against the collection's index.
func (m *Manager) Search(ctx context.Context, collectionID string, query []float32, k int) ([]hnsw.SearchResult, error) {
	idx, err := m.Get(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, k)
}

// Drop removes the collection's handle and deletes its artifact. Dropping a
// collection that never flushed is a no-op.
func (m *Manager) Drop(ctx context.Context, collectionID string) error {
	m.mu.Lock()
	delete(m.handles, collectionID)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, ArtifactName(collectionID)); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Manager) flush(ctx context.Context, collectionID string, idx *hnsw.Index) error {
	data, err := EncodeArtifact(idx, m.codec, m.compression)
	if err != nil {
		return err
	}

	if err := m.store.Put(ctx, ArtifactName(collectionID), data); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	m.logger.DebugContext(ctx, "index flushed",
		"collection", collectionID,
		"count", idx.Len(),
		"bytes", len(data),
	)
	return nil
}
