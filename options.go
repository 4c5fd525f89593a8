package tessera

import (
	"github.com/tesseradb/tessera/blobstore"
	"github.com/tesseradb/tessera/codec"
	"github.com/tesseradb/tessera/extraction"
	"github.com/tesseradb/tessera/index/hnsw"
)

type options struct {
	databasePath     string
	store            blobstore.BlobStore
	codec            codec.Codec
	compression      string
	hnswOptions      []func(o *hnsw.Options)
	extractor        extraction.Extractor
	dedupEnabled     bool
	dedupThreshold   float32
	logger           *Logger
	metricsCollector MetricsCollector
}

// Option configures DB construction.
type Option func(*options)

// WithDatabasePath sets the SQLite file path for the document store.
// Defaults to "tessera.db" in the working directory.
func WithDatabasePath(path string) Option {
	return func(o *options) {
		o.databasePath = path
	}
}

// WithBlobStore sets the backend for index artifacts. Defaults to an
// in-memory store, which does not survive the process.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCodec configures the codec used for artifact manifests.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression selects the artifact compression: "zstd", "lz4" or "none".
func WithCompression(compression string) Option {
	return func(o *options) {
		o.compression = compression
	}
}

// WithHNSW carries graph construction parameters for newly created indexes.
func WithHNSW(optFns ...func(o *hnsw.Options)) Option {
	return func(o *options) {
		o.hnswOptions = append(o.hnswOptions, optFns...)
	}
}

// WithExtractor enables knowledge-graph triple extraction at ingest time.
func WithExtractor(e extraction.Extractor) Option {
	return func(o *options) {
		o.extractor = e
	}
}

// WithDedup enables ingest-time duplicate rejection. Documents whose vector
// lies within threshold of an existing entry are skipped.
func WithDedup(threshold float32) Option {
	return func(o *options) {
		o.dedupEnabled = true
		o.dedupThreshold = threshold
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsCollector sets the metrics sink. Defaults to a no-op collector.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector != nil {
			o.metricsCollector = collector
		}
	}
}
