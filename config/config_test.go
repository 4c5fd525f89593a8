package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "tessera.db", cfg.Database.Path)
	require.Equal(t, 16, cfg.Index.M)
	require.Equal(t, 200, cfg.Index.EFConstruction)
	require.Equal(t, 50, cfg.Index.EFSearch)
	require.Equal(t, "l2", cfg.Index.Metric)
	require.Equal(t, "zstd", cfg.Index.Compression)
	require.Equal(t, 384, cfg.Embedding.Dimension)
	require.False(t, cfg.Dedup.Enabled)
	require.InDelta(t, 0.05, cfg.Dedup.Threshold, 1e-9)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: memory
index:
  m: 32
  metric: cosine
dedup:
  enabled: true
  threshold: 0.1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 32, cfg.Index.M)
	require.Equal(t, "cosine", cfg.Index.Metric)
	require.True(t, cfg.Dedup.Enabled)
	require.InDelta(t, 0.1, cfg.Dedup.Threshold, 1e-9)

	// Untouched sections keep their defaults.
	require.Equal(t, 200, cfg.Index.EFConstruction)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: local\n"), 0o600))

	t.Setenv("TESSERA_STORAGE_BACKEND", "memory")
	t.Setenv("TESSERA_INDEX_EF_SEARCH", "80")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 80, cfg.Index.EFSearch)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"unknown backend", func(cfg *Config) { cfg.Storage.Backend = "floppy" }},
		{"minio without endpoint", func(cfg *Config) { cfg.Storage.Backend = "minio" }},
		{"s3 without bucket", func(cfg *Config) { cfg.Storage.Backend = "s3" }},
		{"unknown cold backend", func(cfg *Config) { cfg.Storage.Cold.Backend = "tape" }},
		{"unknown metric", func(cfg *Config) { cfg.Index.Metric = "manhattan" }},
		{"unknown compression", func(cfg *Config) { cfg.Index.Compression = "brotli" }},
		{"negative threshold", func(cfg *Config) { cfg.Dedup.Threshold = -1 }},
		{"bad log level", func(cfg *Config) { cfg.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
