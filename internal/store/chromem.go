package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("c7d.store.chromem")

// ChromemStore implements ChunkStore on chromem-go, an embeddable pure-Go
// vector database with gob-file persistence. Each library gets its own
// collection; library and document records live in the JSON catalog
// beside the collections.
type ChromemStore struct {
	mu     sync.RWMutex
	db     *chromem.DB
	cat    *catalog
	dim    int
	logger *zap.Logger
	closed bool
}

var _ ChunkStore = (*ChromemStore)(nil)

// Options configures a ChromemStore.
type Options struct {
	// Path is the root directory for all persisted state.
	Path string
	// EmbedderModel and EmbeddingDim are recorded in the catalog.
	// Opening a store persisted with a different dimension fails with
	// ErrDimensionMismatch.
	EmbedderModel string
	EmbeddingDim  int
	// Compress enables gzip on the persisted collection files.
	Compress bool
	Logger   *zap.Logger
}

// NewChromemStore opens (or initializes) the store at opts.Path.
func NewChromemStore(opts Options) (*ChromemStore, error) {
	if opts.Path == "" {
		return nil, errors.New("store path is required")
	}
	if opts.EmbeddingDim < 1 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", opts.EmbeddingDim)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", opts.Path, err)
	}

	db, err := chromem.NewPersistentDB(opts.Path, opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	cat, err := openCatalog(catalogPath(opts.Path), opts.EmbedderModel, opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	s := &ChromemStore{
		db:     db,
		cat:    cat,
		dim:    opts.EmbeddingDim,
		logger: logger,
	}

	logger.Info("store opened",
		zap.String("path", opts.Path),
		zap.Int("embedding_dim", opts.EmbeddingDim),
		zap.Int("libraries", len(cat.data.Libraries)),
		zap.Int("documents", len(cat.data.Documents)),
	)
	return s, nil
}

// EmbeddingDim returns the vector dimension this store was opened with.
func (s *ChromemStore) EmbeddingDim() int {
	return s.dim
}

// Close flushes nothing (writes are synchronous) but blocks further use.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// noEmbedFunc satisfies chromem's collection API. All chunks carry
// precomputed vectors and queries use QueryEmbedding, so it must never
// be reached.
func noEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("store requires precomputed embeddings")
}

func collectionName(libraryID string) string {
	return "col-" + libraryID
}

// newLibraryID builds lib-<ecosystem>-<normalized-name>-<random-suffix>.
func newLibraryID(ecosystem, name string) string {
	return fmt.Sprintf("lib-%s-%s-%s", NormalizeName(ecosystem), NormalizeName(name), uuid.NewString()[:8])
}

func (s *ChromemStore) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateLibrary inserts a library after validating name and context7 id
// uniqueness.
func (s *ChromemStore) CreateLibrary(ctx context.Context, lib *Library) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.CreateLibrary")
	defer span.End()
	span.SetAttributes(attribute.String("library.name", lib.Name))

	if err := ValidateLibrary(lib); err != nil {
		return err
	}
	if lib.Context7ID == "" {
		lib.Context7ID = DeriveContext7ID(lib.Ecosystem, lib.Name)
	}
	if err := ValidateContext7ID(lib.Context7ID); err != nil {
		return err
	}
	if lib.ID == "" {
		lib.ID = newLibraryID(lib.Ecosystem, lib.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if s.cat.libraryByEcosystemName(lib.Ecosystem, lib.Name) != nil {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateName, lib.Ecosystem, lib.Name)
	}
	if s.cat.libraryByContext7ID(lib.Context7ID) != nil {
		return fmt.Errorf("%w: %q", ErrDuplicateContext7ID, lib.Context7ID)
	}

	now := time.Now().UTC()
	if lib.CreatedAt.IsZero() {
		lib.CreatedAt = now
	}
	lib.UpdatedAt = now
	if lib.Status == "" {
		lib.Status = LibraryStatusActive
	}

	stored := *lib
	s.cat.data.Libraries[lib.ID] = &stored
	if err := s.cat.save(); err != nil {
		delete(s.cat.data.Libraries, lib.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *ChromemStore) GetLibrary(ctx context.Context, id string) (*Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	lib, ok := s.cat.data.Libraries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, id)
	}
	out := *lib
	return &out, nil
}

func (s *ChromemStore) GetLibraryByContext7ID(ctx context.Context, context7ID string) (*Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	lib := s.cat.libraryByContext7ID(context7ID)
	if lib == nil {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, context7ID)
	}
	out := *lib
	return &out, nil
}

// ListLibraries returns all libraries ordered by name.
func (s *ChromemStore) ListLibraries(ctx context.Context) ([]*Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	libs := make([]*Library, 0, len(s.cat.data.Libraries))
	for _, lib := range s.cat.data.Libraries {
		out := *lib
		libs = append(libs, &out)
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].Name < libs[j].Name })
	return libs, nil
}

// UpdateLibrary replaces a library's mutable fields. Renames keep the
// uniqueness invariants.
func (s *ChromemStore) UpdateLibrary(ctx context.Context, lib *Library) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.UpdateLibrary")
	defer span.End()

	if err := ValidateLibrary(lib); err != nil {
		return err
	}
	if err := ValidateContext7ID(lib.Context7ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	prev, ok := s.cat.data.Libraries[lib.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, lib.ID)
	}
	if other := s.cat.libraryByEcosystemName(lib.Ecosystem, lib.Name); other != nil && other.ID != lib.ID {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateName, lib.Ecosystem, lib.Name)
	}
	if other := s.cat.libraryByContext7ID(lib.Context7ID); other != nil && other.ID != lib.ID {
		return fmt.Errorf("%w: %q", ErrDuplicateContext7ID, lib.Context7ID)
	}

	stored := *lib
	stored.CreatedAt = prev.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	s.cat.data.Libraries[lib.ID] = &stored
	if err := s.cat.save(); err != nil {
		s.cat.data.Libraries[lib.ID] = prev
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// DeleteLibrary removes a library that has no documents left.
func (s *ChromemStore) DeleteLibrary(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteLibrary")
	defer span.End()
	span.SetAttributes(attribute.String("library.id", id))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	prev, ok := s.cat.data.Libraries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, id)
	}
	if len(s.cat.documentsOf(id)) > 0 {
		return fmt.Errorf("%w: %s", ErrLibraryInUse, id)
	}

	delete(s.cat.data.Libraries, id)
	if err := s.cat.save(); err != nil {
		s.cat.data.Libraries[id] = prev
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Collection may not exist when the library never got documents.
	if err := s.db.DeleteCollection(collectionName(id)); err != nil {
		s.logger.Warn("failed to delete collection",
			zap.String("library_id", id), zap.Error(err))
	}
	return nil
}

func (s *ChromemStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	doc, ok := s.cat.data.Documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	out := *doc
	return &out, nil
}

// ListDocuments returns a library's documents ordered by creation time.
// An empty libraryID lists documents across all libraries.
func (s *ChromemStore) ListDocuments(ctx context.Context, libraryID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var docs []*Document
	if libraryID == "" {
		for _, doc := range s.cat.data.Documents {
			docs = append(docs, doc)
		}
	} else {
		if _, ok := s.cat.data.Libraries[libraryID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, libraryID)
		}
		docs = s.cat.documentsOf(libraryID)
	}
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		d := *doc
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReplaceDocument writes a new chunk generation for doc and commits the
// document record. The old generation is deleted first; the record is
// only visible as active once every chunk is written, so a crash
// mid-write leaves orphans for SweepOrphans rather than a torn document.
func (s *ChromemStore) ReplaceDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.ReplaceDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.Int("chunk_count", len(chunks)),
	)

	for i := range chunks {
		if len(chunks[i].Vector) != s.dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, store has %d",
				ErrDimensionMismatch, i, len(chunks[i].Vector), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, ok := s.cat.data.Libraries[doc.LibraryID]; !ok {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, doc.LibraryID)
	}

	now := time.Now().UTC()
	prev, existed := s.cat.data.Documents[doc.ID]

	stored := *doc
	stored.ChunkCount = len(chunks)
	stored.Status = DocumentStatusActive
	stored.UpdatedAt = now
	if existed {
		// Replacement keeps the original ingestion time.
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	col, err := s.db.GetOrCreateCollection(collectionName(doc.LibraryID), nil, noEmbedFunc)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("opening collection: %w", err)
	}

	// Drop the previous generation, including any trailing chunks when
	// the new generation is shorter.
	if existed && prev.ChunkCount > 0 {
		if err := col.Delete(ctx, map[string]string{"document_id": doc.ID}, nil); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting previous chunks: %w", err)
		}
	}

	if len(chunks) > 0 {
		docs := make([]chromem.Document, len(chunks))
		for i, ch := range chunks {
			docs[i] = chromem.Document{
				ID:        ChunkID(doc.ID, ch.ChunkIndex),
				Content:   ch.Text,
				Embedding: ch.Vector,
				Metadata:  chunkMetadata(stored, ch),
			}
		}
		// Concurrency of 1: embeddings are precomputed.
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding chunks: %w", err)
		}
	}

	s.cat.data.Documents[doc.ID] = &stored
	if err := s.cat.save(); err != nil {
		if existed {
			s.cat.data.Documents[doc.ID] = prev
		} else {
			delete(s.cat.data.Documents, doc.ID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	*doc = stored
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *ChromemStore) DeleteDocument(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	doc, ok := s.cat.data.Documents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	if col := s.db.GetCollection(collectionName(doc.LibraryID), noEmbedFunc); col != nil {
		if err := col.Delete(ctx, map[string]string{"document_id": id}, nil); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting chunks: %w", err)
		}
	}

	delete(s.cat.data.Documents, id)
	if err := s.cat.save(); err != nil {
		s.cat.data.Documents[id] = doc
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// GetDocumentChunks returns a document's chunks in index order.
func (s *ChromemStore) GetDocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.GetDocumentChunks")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	doc, ok := s.cat.data.Documents[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if doc.ChunkCount == 0 {
		return []Chunk{}, nil
	}

	col := s.db.GetCollection(collectionName(doc.LibraryID), noEmbedFunc)
	if col == nil {
		return nil, fmt.Errorf("collection missing for library %s", doc.LibraryID)
	}

	chunks := make([]Chunk, 0, doc.ChunkCount)
	for i := 0; i < doc.ChunkCount; i++ {
		cd, err := col.GetByID(ctx, ChunkID(documentID, i))
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("reading chunk %d of %s: %w", i, documentID, err)
		}
		chunks = append(chunks, chunkFromStored(cd))
	}
	return chunks, nil
}

// SearchChunks runs a similarity query over a library's collection.
// Chunks of pending documents are filtered out of the results.
func (s *ChromemStore) SearchChunks(ctx context.Context, libraryID string, vector []float32, k int) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SearchChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("library.id", libraryID),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			ErrDimensionMismatch, len(vector), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if _, ok := s.cat.data.Libraries[libraryID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, libraryID)
	}

	col := s.db.GetCollection(collectionName(libraryID), noEmbedFunc)
	if col == nil {
		return []ScoredChunk{}, nil
	}

	// Over-fetch so the pending-document filter below can still fill k
	// results; chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return []ScoredChunk{}, nil
	}
	fetchK := k * 4
	if fetchK > count {
		fetchK = count
	}

	results, err := col.QueryEmbedding(ctx, vector, fetchK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		ch := chunkFromResult(r)
		doc, ok := s.cat.data.Documents[ch.DocumentID]
		if !ok || doc.Status != DocumentStatusActive {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: ch, Score: r.Similarity})
	}

	// Equal scores order by (document id, chunk index) so results are
	// stable across runs.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.DocumentID != scored[j].Chunk.DocumentID {
			return scored[i].Chunk.DocumentID < scored[j].Chunk.DocumentID
		}
		return scored[i].Chunk.ChunkIndex < scored[j].Chunk.ChunkIndex
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	span.SetAttributes(attribute.Int("results", len(scored)))
	return scored, nil
}

// SweepOrphans deletes the chunks of documents that are still pending
// after maxAge, then drops their records. Pending documents are ones a
// crashed ingestion left behind.
func (s *ChromemStore) SweepOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SweepOrphans")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, doc := range s.cat.data.Documents {
		if doc.Status != DocumentStatusPending || doc.UpdatedAt.After(cutoff) {
			continue
		}
		if col := s.db.GetCollection(collectionName(doc.LibraryID), noEmbedFunc); col != nil {
			if err := col.Delete(ctx, map[string]string{"document_id": id}, nil); err != nil {
				span.RecordError(err)
				s.logger.Warn("sweep failed to delete chunks",
					zap.String("document_id", id), zap.Error(err))
				continue
			}
		}
		delete(s.cat.data.Documents, id)
		removed++
	}

	if removed > 0 {
		if err := s.cat.save(); err != nil {
			span.RecordError(err)
			return removed, err
		}
		s.logger.Info("swept orphaned documents", zap.Int("removed", removed))
	}
	return removed, nil
}

// MarkDocumentPending records a document before its chunks are written,
// so an interrupted ingestion is visible to SweepOrphans.
func (s *ChromemStore) MarkDocumentPending(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.cat.data.Libraries[doc.LibraryID]; !ok {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, doc.LibraryID)
	}
	if _, exists := s.cat.data.Documents[doc.ID]; exists {
		// Replacing an existing document; the active record stays until
		// the new generation commits.
		return nil
	}
	now := time.Now().UTC()
	stored := *doc
	stored.Status = DocumentStatusPending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.cat.data.Documents[doc.ID] = &stored
	return s.cat.save()
}

func chunkMetadata(doc Document, ch Chunk) map[string]string {
	m := map[string]string{
		"document_id": doc.ID,
		"library_id":  doc.LibraryID,
		"chunk_index": strconv.Itoa(ch.ChunkIndex),
		"chunk_total": strconv.Itoa(ch.ChunkTotal),
		"source":      ch.Source,
		"source_type": ch.SourceType,
		"created_at":  doc.CreatedAt.Format(time.RFC3339Nano),
	}
	if ch.Title != "" {
		m["title"] = ch.Title
	}
	if ch.MetadataJSON != "" {
		m["metadata_json"] = ch.MetadataJSON
	}
	return m
}

func chunkFromMetadata(id, content string, embedding []float32, meta map[string]string) Chunk {
	ch := Chunk{
		ID:           id,
		Text:         content,
		Vector:       embedding,
		DocumentID:   meta["document_id"],
		LibraryID:    meta["library_id"],
		Title:        meta["title"],
		Source:       meta["source"],
		SourceType:   meta["source_type"],
		MetadataJSON: meta["metadata_json"],
	}
	ch.ChunkIndex, _ = strconv.Atoi(meta["chunk_index"])
	ch.ChunkTotal, _ = strconv.Atoi(meta["chunk_total"])
	if ts, err := time.Parse(time.RFC3339Nano, meta["created_at"]); err == nil {
		ch.CreatedAt = ts
	}
	return ch
}

func chunkFromStored(d chromem.Document) Chunk {
	return chunkFromMetadata(d.ID, d.Content, d.Embedding, d.Metadata)
}

func chunkFromResult(r chromem.Result) Chunk {
	return chunkFromMetadata(r.ID, r.Content, r.Embedding, r.Metadata)
}
