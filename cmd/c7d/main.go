// C7d is a self-hosted documentation retrieval daemon. It ingests
// markdown into a local vector store and serves it to coding agents
// over REST and the MCP Streamable HTTP transport.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	c7d
//
//	# Configure via file and environment
//	c7d --config c7d.yaml
//	STORE_PATH=/var/lib/c7d HTTP_PORT=9000 c7d
//
//	# Serve MCP over stdio instead of HTTP
//	c7d --stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/config"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/embedder"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/httpapi"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/logging"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/mcp"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/mcp/stdio"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/telemetry"
)

// Version information (set via ldflags during build).
var version = "dev"

const (
	orphanSweepInterval = 10 * time.Minute
	orphanMaxAge        = time.Hour
	sessionSweepEvery   = 5 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	useStdio := flag.Bool("stdio", false, "serve MCP over stdio instead of HTTP")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("c7d %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *useStdio); err != nil {
		fmt.Fprintf(os.Stderr, "c7d: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, useStdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	shutdownTelemetry, err := telemetry.Setup("c7d", version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	st, err := store.NewChromemStore(store.Options{
		Path:          cfg.StorePath,
		EmbedderModel: cfg.EmbedderModel,
		EmbeddingDim:  cfg.EmbeddingDim,
		Compress:      true,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	defer func() {
		if err := emb.Close(); err != nil {
			logger.Warn("embedder close failed", zap.Error(err))
		}
	}()

	if got := emb.Dimension(); got != cfg.EmbeddingDim {
		return fmt.Errorf("embedder produces %d dimensions, config says %d", got, cfg.EmbeddingDim)
	}

	ing, err := ingest.NewService(st, emb, ingest.Config{
		MaxContentBytes: cfg.MaxContentBytes,
		FetchTimeout:    cfg.FetchTimeout(),
		Concurrency:     cfg.IngestionConcurrency,
		UpstreamURL:     cfg.UpstreamContext7URL,
	}, logger)
	if err != nil {
		return err
	}

	qry, err := query.NewService(st, emb, logger)
	if err != nil {
		return err
	}

	logger.Info("c7d starting",
		zap.String("version", version),
		zap.String("store_path", cfg.StorePath),
		zap.String("embedder", cfg.EmbedderProvider),
		zap.String("model", cfg.EmbedderModel),
		zap.Int("dim", cfg.EmbeddingDim),
	)

	go ing.RunSweeper(ctx, orphanSweepInterval, orphanMaxAge)

	if useStdio {
		srv, err := stdio.NewServer(stdio.Config{Name: "c7d", Version: version}, qry, ing, st, logger)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	return runHTTP(ctx, cfg, st, ing, qry, logger)
}

func runHTTP(ctx context.Context, cfg *config.Config, st store.ChunkStore, ing *ingest.Service, qry *query.Service, logger *zap.Logger) error {
	mcpHandler, err := mcp.NewHandler(qry, ing, st, mcp.NewSessionStore(0),
		mcp.ServerInfo{Name: "c7d", Version: version}, logger)
	if err != nil {
		return err
	}
	go mcpHandler.Sessions().RunJanitor(ctx, sessionSweepEvery)

	srv, err := httpapi.NewServer(st, ing, qry, mcpHandler, httpapi.Config{
		Port: cfg.HTTPPort,
	}, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// newEmbedder builds the configured provider, wrapped with retry.
func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	var (
		inner embedder.Embedder
		err   error
	)
	switch cfg.EmbedderProvider {
	case "fastembed":
		inner, err = embedder.NewFastEmbed(embedder.FastEmbedConfig{
			Model:    cfg.EmbedderModel,
			CacheDir: filepath.Join(cfg.StorePath, "models"),
		})
	case "openai":
		inner, err = embedder.NewOpenAI(embedder.OpenAIConfig{
			BaseURL:   cfg.EmbedderBaseURL,
			Model:     cfg.EmbedderModel,
			APIKey:    cfg.EmbedderAPIKey,
			Dimension: cfg.EmbeddingDim,
		})
	case "hash":
		inner, err = embedder.NewHash(cfg.EmbeddingDim)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
	}
	if err != nil {
		return nil, err
	}
	return embedder.WithRetry(inner), nil
}
