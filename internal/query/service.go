// Package query implements semantic search within a library and
// library-name resolution. Both operations share the store and the
// embedder; neither writes.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/embedder"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const instrumentationName = "c7d.query"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

var ErrInvalidRequest = errors.New("invalid query request")

const (
	defaultK = 5
	maxK     = 50
)

// Service runs query-docs and resolve-library-id.
type Service struct {
	store    store.ChunkStore
	embedder embedder.Embedder
	logger   *zap.Logger

	queryCounter   metric.Int64Counter
	resolveCounter metric.Int64Counter
}

// NewService creates the engine. logger may be nil.
func NewService(st store.ChunkStore, emb embedder.Embedder, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if emb == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{store: st, embedder: emb, logger: logger}

	var err error
	if s.queryCounter, err = meter.Int64Counter("c7d.query.docs.total",
		metric.WithDescription("query-docs invocations")); err != nil {
		return nil, fmt.Errorf("creating query counter: %w", err)
	}
	if s.resolveCounter, err = meter.Int64Counter("c7d.query.resolve.total",
		metric.WithDescription("resolve-library-id invocations")); err != nil {
		return nil, fmt.Errorf("creating resolve counter: %w", err)
	}
	return s, nil
}

// DocsRequest asks for the most relevant chunks of one library.
type DocsRequest struct {
	// LibraryRef is the canonical context7 id (leading slash) or the
	// internal library id.
	LibraryRef string
	Query      string
	// K caps result count; default 5, max 50.
	K int
	// SourceType optionally restricts hits to one source type.
	SourceType string
}

// DocsResult carries both the structured hits and the rendered markdown.
type DocsResult struct {
	Library  *store.Library
	Chunks   []store.ScoredChunk
	Markdown string
	// Metric names the similarity measure behind the scores.
	Metric string
}

// QueryDocs embeds the query and searches the library's chunks.
// An existing library with no chunks yields an empty result with an
// explanatory note, not an error.
func (s *Service) QueryDocs(ctx context.Context, req DocsRequest) (*DocsResult, error) {
	ctx, span := tracer.Start(ctx, "query.QueryDocs")
	defer span.End()
	span.SetAttributes(attribute.String("library.ref", req.LibraryRef))

	if req.LibraryRef == "" {
		return nil, fmt.Errorf("%w: library reference is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	k := req.K
	if k <= 0 {
		k = defaultK
	}
	if k > maxK {
		k = maxK
	}

	lib, err := s.resolveRef(ctx, req.LibraryRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// When a source-type filter is set, over-fetch so the post-filter
	// can still fill k results.
	fetchK := k
	if req.SourceType != "" {
		fetchK = k * 4
		if fetchK > maxK {
			fetchK = maxK
		}
	}

	hits, err := s.store.SearchChunks(ctx, lib.ID, vector, fetchK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if req.SourceType != "" {
		filtered := hits[:0]
		for _, h := range hits {
			if h.Chunk.SourceType == req.SourceType {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	s.queryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("library", lib.Context7ID)))
	span.SetAttributes(attribute.Int("results", len(hits)))

	s.logger.Debug("query-docs",
		zap.String("library", lib.Context7ID),
		zap.Int("k", k),
		zap.Int("results", len(hits)),
	)

	return &DocsResult{
		Library:  lib,
		Chunks:   hits,
		Markdown: renderChunks(lib, hits),
		Metric:   "cosine",
	}, nil
}

// resolveRef accepts a context7 id (leading slash) or an internal id.
func (s *Service) resolveRef(ctx context.Context, ref string) (*store.Library, error) {
	if strings.HasPrefix(ref, "/") {
		return s.store.GetLibraryByContext7ID(ctx, ref)
	}
	return s.store.GetLibrary(ctx, ref)
}

// renderChunks produces the markdown payload: each chunk under a
// heading with its position in the document and a Source line.
func renderChunks(lib *store.Library, hits []store.ScoredChunk) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No documentation chunks found in %s. The library exists but has no ingested content matching the query.", lib.Context7ID)
	}

	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		ch := hit.Chunk
		title := ch.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "### %s (section %d/%d)\n", title, ch.ChunkIndex+1, ch.ChunkTotal)
		fmt.Fprintf(&sb, "Source: %s\n\n", ch.Source)
		sb.WriteString(strings.TrimSpace(ch.Text))
	}
	return sb.String()
}
