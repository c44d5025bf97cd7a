// Package ingest turns uploads, fetched URLs, and upstream mirror
// snapshots into persisted, embedded chunks.
//
// The pipeline is chunk → embed → persist. Writes go through a
// pending-then-active document discipline: the document record is
// marked pending before chunks are written and committed active with
// them, so an interrupted ingestion leaves only orphans that the
// periodic sweep removes.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/chunker"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/embedder"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const instrumentationName = "c7d.ingest"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

// Typed failures. The protocol layer maps them to HTTP status codes.
var (
	ErrFetchFailed         = errors.New("fetch failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamDisabled    = errors.New("no upstream mirror configured")
	ErrContentTooLarge     = errors.New("content exceeds size limit")
	ErrInvalidContent      = errors.New("content is not valid UTF-8")
	ErrEmptyContent        = errors.New("content is empty")
	ErrBusy                = errors.New("too many concurrent ingestions")
	ErrInvalidRequest      = errors.New("invalid ingestion request")
)

const (
	defaultEmbedBatch = 64
	// semaphoreWait bounds how long an ingestion queues for a slot
	// before the caller gets a busy error.
	semaphoreWait = 5 * time.Second
)

// Config tunes the pipeline.
type Config struct {
	// MaxContentBytes caps a single document's raw content.
	MaxContentBytes int64
	// FetchTimeout bounds each outbound HTTP fetch.
	FetchTimeout time.Duration
	// Concurrency caps simultaneous ingestions.
	Concurrency int
	// UpstreamURL is the optional Context7-compatible mirror base URL.
	UpstreamURL string
	// Strategy is the default chunking strategy (markdown-h3 when empty).
	Strategy string
	// ChunkOptions tunes the chunkers.
	ChunkOptions chunker.Options
	// EmbedBatchSize groups chunks per embedder call. Default 64.
	EmbedBatchSize int
}

func (c *Config) applyDefaults() {
	if c.MaxContentBytes == 0 {
		c.MaxContentBytes = 10 * 1024 * 1024
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.EmbedBatchSize == 0 {
		c.EmbedBatchSize = defaultEmbedBatch
	}
}

// Service is the ingestion pipeline.
type Service struct {
	store    store.ChunkStore
	embedder embedder.Embedder
	config   Config
	logger   *zap.Logger

	fetcher *fetcher

	// sem caps concurrent ingestions across all entry points.
	sem chan struct{}
	// docLocks serializes replacement per document id. Entries are
	// reference-counted and removed when the last holder releases.
	locksMu  sync.Mutex
	docLocks map[string]*docLock

	documentsIngested metric.Int64Counter
	chunksWritten     metric.Int64Counter
}

// NewService builds the pipeline. logger may be nil.
func NewService(st store.ChunkStore, emb embedder.Embedder, cfg Config, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if emb == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	// Validate the default strategy up front rather than on first use.
	if _, err := chunker.New(cfg.Strategy, cfg.ChunkOptions); err != nil {
		return nil, err
	}

	s := &Service{
		store:    st,
		embedder: emb,
		config:   cfg,
		logger:   logger,
		fetcher:  newFetcher(cfg, logger),
		sem:      make(chan struct{}, cfg.Concurrency),
		docLocks: make(map[string]*docLock),
	}

	var err error
	if s.documentsIngested, err = meter.Int64Counter("c7d.ingest.documents.total",
		metric.WithDescription("documents ingested")); err != nil {
		return nil, fmt.Errorf("creating document counter: %w", err)
	}
	if s.chunksWritten, err = meter.Int64Counter("c7d.ingest.chunks.total",
		metric.WithDescription("chunks written")); err != nil {
		return nil, fmt.Errorf("creating chunk counter: %w", err)
	}
	return s, nil
}

// UploadRequest ingests inline content into a library.
type UploadRequest struct {
	LibraryID string
	Title     string
	Content   string
	// Strategy overrides the configured default chunking strategy.
	Strategy string
}

// UploadDocument ingests raw content as a new document. Repeated
// uploads of identical content create new documents; use
// ReplaceContent for in-place updates.
func (s *Service) UploadDocument(ctx context.Context, req UploadRequest) (*store.Document, error) {
	ctx, span := tracer.Start(ctx, "ingest.UploadDocument")
	defer span.End()
	span.SetAttributes(attribute.String("library.id", req.LibraryID))

	if req.LibraryID == "" {
		return nil, fmt.Errorf("%w: library_id is required", ErrInvalidRequest)
	}
	if _, err := s.store.GetLibrary(ctx, req.LibraryID); err != nil {
		return nil, err
	}

	content, err := s.normalize([]byte(req.Content))
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		ID:         uuid.NewString(),
		LibraryID:  req.LibraryID,
		Title:      req.Title,
		Source:     "upload",
		SourceType: "markdown",
	}
	if err := s.ingest(ctx, doc, content, req.Strategy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return doc, nil
}

// FetchRequest ingests the body of a URL into a library.
type FetchRequest struct {
	LibraryID string
	URL       string
	Title     string
	Strategy  string
}

// FetchDocument performs an HTTP GET and ingests the body. The
// response's Content-Type determines source_type, falling back to the
// URL extension, falling back to "unknown".
func (s *Service) FetchDocument(ctx context.Context, req FetchRequest) (*store.Document, error) {
	ctx, span := tracer.Start(ctx, "ingest.FetchDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("library.id", req.LibraryID),
		attribute.String("url", req.URL),
	)

	if req.LibraryID == "" {
		return nil, fmt.Errorf("%w: library_id is required", ErrInvalidRequest)
	}
	if req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}

	// Existence check before the expensive fetch.
	if _, err := s.store.GetLibrary(ctx, req.LibraryID); err != nil {
		return nil, err
	}

	body, sourceType, err := s.fetcher.fetch(ctx, req.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	content, err := s.normalize(body)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = titleFromContent(content, req.URL)
	}

	doc := &store.Document{
		ID:         uuid.NewString(),
		LibraryID:  req.LibraryID,
		Title:      title,
		Source:     req.URL,
		SourceType: sourceType,
	}
	if err := s.ingest(ctx, doc, content, req.Strategy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return doc, nil
}

// ReplaceContent re-ingests a document's content in place. The old
// chunk set is deleted before the new one is written; created_at
// carries over.
func (s *Service) ReplaceContent(ctx context.Context, documentID, content string) (*store.Document, error) {
	ctx, span := tracer.Start(ctx, "ingest.ReplaceContent")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	prev, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	normalized, err := s.normalize([]byte(content))
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		ID:         prev.ID,
		LibraryID:  prev.LibraryID,
		Title:      prev.Title,
		Source:     prev.Source,
		SourceType: prev.SourceType,
	}
	if err := s.ingest(ctx, doc, normalized, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return doc, nil
}

// DocumentContent reconstructs a document's raw content by
// concatenating its chunk texts in index order.
func (s *Service) DocumentContent(ctx context.Context, documentID string) (string, error) {
	chunks, err := s.store.GetDocumentChunks(ctx, documentID)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Text
	}
	return strings.Join(parts, "\n\n"), nil
}

// ingest runs chunk → embed → persist under the concurrency semaphore
// and the per-document lock.
func (s *Service) ingest(ctx context.Context, doc *store.Document, content, strategy string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	unlock := s.lockDocument(doc.ID)
	defer unlock()

	if strategy == "" {
		strategy = s.config.Strategy
	}
	ck, err := chunker.New(strategy, s.config.ChunkOptions)
	if err != nil {
		return err
	}

	sections, err := ck.Chunk(content)
	if err != nil {
		return fmt.Errorf("chunking document: %w", err)
	}
	if len(sections) == 0 {
		return fmt.Errorf("%w: chunker produced no sections", ErrEmptyContent)
	}

	vectors, err := s.embedSections(ctx, sections)
	if err != nil {
		return err
	}

	if doc.Title == "" {
		doc.Title = sections[0].Title
	}

	chunks := make([]store.Chunk, len(sections))
	for i, sec := range sections {
		meta, _ := json.Marshal(map[string]string{"section": sec.Title})
		chunks[i] = store.Chunk{
			DocumentID:   doc.ID,
			LibraryID:    doc.LibraryID,
			Title:        doc.Title,
			Text:         sec.Text,
			Vector:       vectors[i],
			ChunkIndex:   i,
			ChunkTotal:   len(sections),
			Source:       doc.Source,
			SourceType:   doc.SourceType,
			MetadataJSON: string(meta),
		}
	}

	if err := s.store.MarkDocumentPending(ctx, doc); err != nil {
		return err
	}
	if err := s.store.ReplaceDocument(ctx, doc, chunks); err != nil {
		return err
	}

	s.documentsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("source_type", doc.SourceType)))
	s.chunksWritten.Add(ctx, int64(len(chunks)))
	s.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("library_id", doc.LibraryID),
		zap.Int("chunks", len(chunks)),
		zap.String("strategy", ck.Name()),
	)
	return nil
}

// embedSections batches embedding calls to embedder-sized groups.
func (s *Service) embedSections(ctx context.Context, sections []chunker.Section) ([][]float32, error) {
	vectors := make([][]float32, 0, len(sections))
	for start := 0; start < len(sections); start += s.config.EmbedBatchSize {
		end := start + s.config.EmbedBatchSize
		if end > len(sections) {
			end = len(sections)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = sections[i].Text
		}
		batch, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			if embedder.IsTransient(err) {
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			}
			return nil, fmt.Errorf("embedding chunks: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// normalize strips a UTF-8 BOM, checks encoding, and enforces the size
// ceiling.
func (s *Service) normalize(raw []byte) (string, error) {
	raw = stripBOM(raw)
	if int64(len(raw)) > s.config.MaxContentBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrContentTooLarge, len(raw), s.config.MaxContentBytes)
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidContent
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", ErrEmptyContent
	}
	return string(raw), nil
}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func (s *Service) acquire(ctx context.Context) error {
	timer := time.NewTimer(semaphoreWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBusy
	}
}

func (s *Service) release() {
	<-s.sem
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

// lockDocument serializes replacements of one document id. The lock
// entry is dropped once no goroutine holds or waits on it, so the map
// does not grow with every document ever ingested.
func (s *Service) lockDocument(id string) func() {
	s.locksMu.Lock()
	l, ok := s.docLocks[id]
	if !ok {
		l = &docLock{}
		s.docLocks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.docLocks, id)
		}
		s.locksMu.Unlock()
	}
}

// RunSweeper deletes orphaned pending documents every interval until
// ctx is cancelled. Meant to run as a daemon goroutine.
func (s *Service) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.SweepOrphans(ctx, maxAge); err != nil {
				s.logger.Warn("orphan sweep failed", zap.Error(err))
			}
		}
	}
}

// titleFromContent takes the first markdown h1, falling back to the
// last URL path segment.
func titleFromContent(content, url string) string {
	for _, line := range strings.Split(content, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(t, "# "))
		}
	}
	if idx := strings.LastIndex(strings.TrimRight(url, "/"), "/"); idx >= 0 {
		if seg := strings.TrimRight(url, "/")[idx+1:]; seg != "" {
			return seg
		}
	}
	return "Untitled"
}
