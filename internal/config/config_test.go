package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "fastembed", cfg.EmbedderProvider)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.EmbedderModel)
	assert.Equal(t, 384, cfg.EmbeddingDim)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, "https://context7.com", cfg.UpstreamContext7URL)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
	assert.Equal(t, int64(10*1024*1024), cfg.MaxContentBytes)
	assert.Equal(t, 8, cfg.IngestionConcurrency)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_PATH", "/tmp/c7d-test")
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("FETCH_TIMEOUT_SECONDS", "5")
	t.Setenv("INGESTION_CONCURRENCY", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/c7d-test", cfg.StorePath)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 9191, cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 2, cfg.IngestionConcurrency)
}

func TestLoadYAMLFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 7070\nlog_level: debug\n"), 0o600))

	t.Setenv("HTTP_PORT", "7071")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file, file beats default.
	assert.Equal(t, 7071, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.EmbedderProvider = "word2vec" },
			wantErr: "unknown embedder provider",
		},
		{
			name:    "openai without base URL",
			mutate:  func(c *Config) { c.EmbedderProvider = "openai" },
			wantErr: "base URL required",
		},
		{
			name:    "zero dimension",
			mutate:  func(c *Config) { c.EmbeddingDim = -1 },
			wantErr: "invalid embedding dimension",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.HTTPPort = 70000 },
			wantErr: "invalid http port",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.IngestionConcurrency = -3 },
			wantErr: "invalid ingestion concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
