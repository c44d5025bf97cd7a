package store

import (
	"context"
	"time"
)

// ChunkStore is the persistence contract the ingestion and query
// engines program against.
type ChunkStore interface {
	// CreateLibrary inserts a new library. Name and context7 id must be
	// unique; violations return ErrDuplicateName / ErrDuplicateContext7ID.
	CreateLibrary(ctx context.Context, lib *Library) error
	GetLibrary(ctx context.Context, id string) (*Library, error)
	GetLibraryByContext7ID(ctx context.Context, context7ID string) (*Library, error)
	ListLibraries(ctx context.Context) ([]*Library, error)
	UpdateLibrary(ctx context.Context, lib *Library) error
	// DeleteLibrary removes an empty library. A library that still has
	// documents returns ErrLibraryInUse.
	DeleteLibrary(ctx context.Context, id string) error

	GetDocument(ctx context.Context, id string) (*Document, error)
	// ListDocuments returns a library's documents; an empty libraryID
	// lists across all libraries.
	ListDocuments(ctx context.Context, libraryID string) ([]*Document, error)
	// MarkDocumentPending records a new document before its chunks are
	// written so an interrupted ingestion is visible to SweepOrphans.
	MarkDocumentPending(ctx context.Context, doc *Document) error
	// ReplaceDocument writes a document's chunks, replacing any previous
	// generation, and commits the document record. The document stays
	// pending until the commit; re-ingesting an existing document keeps
	// its original CreatedAt.
	ReplaceDocument(ctx context.Context, doc *Document, chunks []Chunk) error
	DeleteDocument(ctx context.Context, id string) error
	GetDocumentChunks(ctx context.Context, documentID string) ([]Chunk, error)

	// SearchChunks runs a vector similarity search over one library's
	// active chunks. Results are ordered by descending score with ties
	// broken by (document id, chunk index).
	SearchChunks(ctx context.Context, libraryID string, vector []float32, k int) ([]ScoredChunk, error)

	// SweepOrphans deletes chunks belonging to documents that never
	// finished ingestion and have been pending longer than maxAge.
	SweepOrphans(ctx context.Context, maxAge time.Duration) (int, error)

	EmbeddingDim() int
	Close() error
}
