package tessera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	"github.com/tesseradb/tessera/blobstore"
	minioblob "github.com/tesseradb/tessera/blobstore/minio"
	s3blob "github.com/tesseradb/tessera/blobstore/s3"
	"github.com/tesseradb/tessera/config"
	"github.com/tesseradb/tessera/embedding"
	"github.com/tesseradb/tessera/extraction"
	"github.com/tesseradb/tessera/index/hnsw"
)

// NewFromConfig builds a DB from a loaded configuration. The embedder is
// still injected explicitly; config covers storage, index and policy knobs.
// A nil embedder selects the configured provider (currently "hashing").
func NewFromConfig(ctx context.Context, cfg *config.Config, embedder embedding.Embedder, extraOpts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if embedder == nil {
		switch cfg.Embedding.Provider {
		case "hashing":
			embedder = embedding.NewHashingEmbedder(cfg.Embedding.Dimension)
		default:
			return nil, fmt.Errorf("%w: embedding provider %q requires an injected embedder", ErrInvalidArgument, cfg.Embedding.Provider)
		}
	}

	logger, err := loggerFromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := storeFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithDatabasePath(cfg.Database.Path),
		WithBlobStore(store),
		WithCompression(cfg.Index.Compression),
		WithLogger(logger),
		WithExtractor(extraction.NewHeuristicExtractor()),
		WithHNSW(func(o *hnsw.Options) {
			o.M = cfg.Index.M
			o.EFConstruction = cfg.Index.EFConstruction
			o.EFSearch = cfg.Index.EFSearch
			o.Metric = cfg.Index.Metric
			o.MaxElements = cfg.Index.MaxElements
		}),
	}
	if cfg.Dedup.Enabled {
		opts = append(opts, WithDedup(float32(cfg.Dedup.Threshold)))
	}
	opts = append(opts, extraOpts...)

	return New(embedder, opts...)
}

func loggerFromConfig(cfg config.LoggingConfig) (*Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("%w: log level %q", ErrInvalidArgument, cfg.Level)
	}

	if cfg.Format == "json" {
		return NewJSONLogger(level), nil
	}
	return NewTextLogger(level), nil
}

func storeFromConfig(ctx context.Context, cfg config.StorageConfig, logger *Logger) (blobstore.BlobStore, error) {
	primary, err := primaryStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cold.Backend == "" {
		return primary, nil
	}

	cold, err := coldStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return blobstore.NewTieredStore(primary, cold, func(o *blobstore.TieredOptions) {
		o.MirrorRate = rate.NewLimiter(rate.Limit(cfg.Cold.MirrorRate), 1)
		o.Logger = logger.Logger
	}), nil
}

func primaryStore(ctx context.Context, cfg config.StorageConfig) (blobstore.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "local":
		return blobstore.NewLocalStore(cfg.Path)
	case "minio", "s3":
		// Remote-only deployments run without a warm tier in front.
		return remoteStore(ctx, cfg, cfg.Backend)
	default:
		return nil, fmt.Errorf("%w: storage backend %q", ErrInvalidArgument, cfg.Backend)
	}
}

func coldStore(ctx context.Context, cfg config.StorageConfig) (blobstore.BlobStore, error) {
	return remoteStore(ctx, cfg, cfg.Cold.Backend)
}

func remoteStore(ctx context.Context, cfg config.StorageConfig, backend string) (blobstore.BlobStore, error) {
	switch backend {
	case "minio":
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating minio client: %w", err)
		}
		return minioblob.NewStore(client, cfg.MinIO.Bucket, cfg.MinIO.Prefix), nil

	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := awss3.NewFromConfig(awsCfg)
		store := s3blob.NewStore(client, cfg.S3.Bucket, cfg.S3.Prefix)
		if cfg.S3.CommitTable == "" {
			return store, nil
		}
		log := s3blob.NewCommitLog(awsdynamodb.NewFromConfig(awsCfg), cfg.S3.CommitTable)
		return s3blob.NewVersionedStore(store, log), nil

	default:
		return nil, fmt.Errorf("%w: remote backend %q", ErrInvalidArgument, backend)
	}
}
