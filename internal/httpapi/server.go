// Package httpapi exposes the REST surface under /api/v1/ plus the
// health and metrics endpoints.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// BodyLimit caps request payloads, echo syntax ("10M").
	BodyLimit string
}

// Server provides the REST endpoints.
type Server struct {
	echo    *echo.Echo
	store   store.ChunkStore
	ingest  *ingest.Service
	query   *query.Service
	logger  *zap.Logger
	config  Config
	metrics *HTTPMetrics
}

// NewServer creates the REST server. An MCP handler, when provided, is
// mounted at /mcp.
func NewServer(st store.ChunkStore, ing *ingest.Service, qry *query.Service, mcpHandler http.Handler, cfg Config, logger *zap.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ing == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if qry == nil {
		return nil, fmt.Errorf("query service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		store:   st,
		ingest:  ing,
		query:   qry,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(s.requestLogger)
	e.Use(s.metrics.Middleware())

	s.registerRoutes(mcpHandler)
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

func (s *Server) registerRoutes(mcpHandler http.Handler) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/libraries", s.handleCreateLibrary)
	v1.GET("/libraries", s.handleListLibraries)
	v1.GET("/libraries/:id", s.handleGetLibrary)
	v1.PATCH("/libraries/:id", s.handlePatchLibrary)
	v1.PUT("/libraries/:id", s.handlePutLibrary)
	v1.DELETE("/libraries/:id", s.handleDeleteLibrary)

	v1.POST("/documents", s.handleCreateDocument)
	v1.POST("/documents/fetch", s.handleFetchDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.GET("/documents/:id/content", s.handleGetDocumentContent)
	v1.PATCH("/documents/:id/content", s.handleReplaceDocumentContent)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)

	v1.POST("/query", s.handleQuery)
	v1.POST("/resolve", s.handleResolve)

	if mcpHandler != nil {
		s.echo.Any("/mcp", echo.WrapHandler(mcpHandler))
	}
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
