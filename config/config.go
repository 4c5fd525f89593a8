// Package config provides configuration loading for tessera.
package config

import (
	"fmt"
	"strings"
)

// Config is the full service configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Storage   StorageConfig   `koanf:"storage"`
	Index     IndexConfig     `koanf:"index"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Dedup     DedupConfig     `koanf:"dedup"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DatabaseConfig locates the SQLite document store.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// StorageConfig selects the index artifact backend.
type StorageConfig struct {
	// Backend is one of "memory", "local", "minio" or "s3".
	Backend string `koanf:"backend"`

	// Path is the artifact directory for the local backend.
	Path string `koanf:"path"`

	Cold  ColdConfig  `koanf:"cold"`
	MinIO MinIOConfig `koanf:"minio"`
	S3    S3Config    `koanf:"s3"`
}

// ColdConfig enables best-effort mirroring of artifacts to a cold tier.
type ColdConfig struct {
	// Backend is "minio", "s3" or empty to disable the cold tier.
	Backend string `koanf:"backend"`

	// MirrorRate limits cold uploads, in operations per second.
	MirrorRate float64 `koanf:"mirror_rate"`
}

// MinIOConfig configures the MinIO artifact backend.
type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// S3Config configures the AWS S3 artifact backend.
type S3Config struct {
	Region string `koanf:"region"`
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`

	// CommitTable enables the DynamoDB commit log for versioned artifacts.
	// Empty disables versioning.
	CommitTable string `koanf:"commit_table"`
}

// IndexConfig carries graph construction and artifact parameters.
type IndexConfig struct {
	M              int    `koanf:"m"`
	EFConstruction int    `koanf:"ef_construction"`
	EFSearch       int    `koanf:"ef_search"`
	Metric         string `koanf:"metric"`
	MaxElements    int    `koanf:"max_elements"`
	Compression    string `koanf:"compression"`
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	// Provider is the embedder implementation. Only "hashing" is built in;
	// other providers are wired in by the embedding caller.
	Provider  string `koanf:"provider"`
	Dimension int    `koanf:"dimension"`
}

// DedupConfig controls ingest-time duplicate rejection.
type DedupConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Threshold float64 `koanf:"threshold"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `koanf:"level"`

	// Format is "text" or "json".
	Format string `koanf:"format"`
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "tessera.db"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "tessera-index"
	}
	if cfg.Storage.Cold.MirrorRate == 0 {
		cfg.Storage.Cold.MirrorRate = 1
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 16
	}
	if cfg.Index.EFConstruction == 0 {
		cfg.Index.EFConstruction = 200
	}
	if cfg.Index.EFSearch == 0 {
		cfg.Index.EFSearch = 50
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "l2"
	}
	if cfg.Index.Compression == "" {
		cfg.Index.Compression = "zstd"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Dedup.Threshold == 0 {
		cfg.Dedup.Threshold = 0.05
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "local":
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("minio backend requires endpoint and bucket")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Storage.Cold.Backend {
	case "", "minio", "s3":
	default:
		return fmt.Errorf("unknown cold backend %q", c.Storage.Cold.Backend)
	}

	switch c.Index.Metric {
	case "l2", "cosine":
	default:
		return fmt.Errorf("unknown metric %q", c.Index.Metric)
	}

	switch c.Index.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("unknown compression %q", c.Index.Compression)
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if c.Dedup.Threshold < 0 {
		return fmt.Errorf("dedup threshold must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
