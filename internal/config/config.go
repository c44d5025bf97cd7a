// Package config provides configuration loading for c7d.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables. All knobs have working defaults so a bare
// `c7d` starts a usable local deployment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete c7d configuration.
type Config struct {
	// StorePath is the root directory for persisted state (vector
	// collections plus the library/document catalog).
	StorePath string `koanf:"store_path"`

	// EmbedderProvider selects the embedding backend: "fastembed"
	// (local ONNX models) or "openai" (any OpenAI-compatible API,
	// including TEI).
	EmbedderProvider string `koanf:"embedder_provider"`

	// EmbedderModel names the embedding model.
	EmbedderModel string `koanf:"embedder_model"`

	// EmbeddingDim is the vector dimension every stored chunk must
	// carry. It must match the model output; a persisted store created
	// with a different dimension refuses to open.
	EmbeddingDim int `koanf:"embedding_dim"`

	// EmbedderBaseURL points the "openai" provider at a server.
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderAPIKey  string `koanf:"embedder_api_key"`

	HTTPPort int `koanf:"http_port"`

	// UpstreamContext7URL is the base URL of the hosted documentation
	// mirror used by fetch-library-docs.
	UpstreamContext7URL string `koanf:"upstream_context7_url"`

	FetchTimeoutSeconds  int   `koanf:"fetch_timeout_seconds"`
	MaxContentBytes      int64 `koanf:"max_content_bytes"`
	IngestionConcurrency int   `koanf:"ingestion_concurrency"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

const (
	defaultStorePath            = "./data"
	defaultEmbedderProvider     = "fastembed"
	defaultEmbedderModel        = "BAAI/bge-small-en-v1.5"
	defaultEmbeddingDim         = 384
	defaultHTTPPort             = 8000
	defaultUpstreamContext7URL  = "https://context7.com"
	defaultFetchTimeoutSeconds  = 30
	defaultMaxContentBytes      = 10 * 1024 * 1024
	defaultIngestionConcurrency = 8
	defaultShutdownTimeout      = 10 * time.Second
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
)

func applyDefaults(cfg *Config) {
	if cfg.StorePath == "" {
		cfg.StorePath = defaultStorePath
	}
	if cfg.EmbedderProvider == "" {
		cfg.EmbedderProvider = defaultEmbedderProvider
	}
	if cfg.EmbedderModel == "" {
		cfg.EmbedderModel = defaultEmbedderModel
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = defaultEmbeddingDim
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.UpstreamContext7URL == "" {
		cfg.UpstreamContext7URL = defaultUpstreamContext7URL
	}
	if cfg.FetchTimeoutSeconds == 0 {
		cfg.FetchTimeoutSeconds = defaultFetchTimeoutSeconds
	}
	if cfg.MaxContentBytes == 0 {
		cfg.MaxContentBytes = defaultMaxContentBytes
	}
	if cfg.IngestionConcurrency == 0 {
		cfg.IngestionConcurrency = defaultIngestionConcurrency
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
}

// FetchTimeout returns the per-request timeout for outbound document fetches.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return errors.New("store path must not be empty")
	}
	switch c.EmbedderProvider {
	case "fastembed", "openai", "hash":
	default:
		return fmt.Errorf("unknown embedder provider %q (want fastembed, openai, or hash)", c.EmbedderProvider)
	}
	if c.EmbedderProvider == "openai" && c.EmbedderBaseURL == "" {
		return errors.New("embedder base URL required for the openai provider")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("invalid embedding dimension: %d", c.EmbeddingDim)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d (must be 1-65535)", c.HTTPPort)
	}
	if c.FetchTimeoutSeconds < 1 {
		return fmt.Errorf("invalid fetch timeout: %ds", c.FetchTimeoutSeconds)
	}
	if c.MaxContentBytes < 1 {
		return fmt.Errorf("invalid max content bytes: %d", c.MaxContentBytes)
	}
	if c.IngestionConcurrency < 1 {
		return fmt.Errorf("invalid ingestion concurrency: %d", c.IngestionConcurrency)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}
