package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(Options{
		Path:          t.TempDir(),
		EmbedderModel: "test-model",
		EmbeddingDim:  testDim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLibrary(name, c7id string) *Library {
	return &Library{
		ID:         uuid.NewString(),
		Name:       name,
		Language:   "Go",
		Ecosystem:  "go",
		Context7ID: c7id,
		Status:     LibraryStatusActive,
	}
}

// testVector returns a unit vector along one of the dimensions.
func testVector(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1
	return v
}

func testChunks(doc *Document, n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = Chunk{
			DocumentID: doc.ID,
			LibraryID:  doc.LibraryID,
			Title:      fmt.Sprintf("Section %d", i),
			Text:       fmt.Sprintf("content of chunk %d", i),
			Vector:     testVector(i),
			ChunkIndex: i,
			ChunkTotal: n,
			Source:     doc.Source,
			SourceType: doc.SourceType,
		}
	}
	return chunks
}

func TestCreateLibraryAndUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	got, err := s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateLibrary(ctx, testLibrary("echo", "/go/echo-copy"))
	assert.ErrorIs(t, err, ErrDuplicateName)

	err = s.CreateLibrary(ctx, testLibrary("echo2", "/go/echo"))
	assert.ErrorIs(t, err, ErrDuplicateContext7ID)
}

func TestCreateLibraryValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateLibrary(ctx, testLibrary("", "/go/x"))
	assert.ErrorIs(t, err, ErrInvalidLibrary)

	err = s.CreateLibrary(ctx, testLibrary("x", "not-a-context7-id"))
	assert.ErrorIs(t, err, ErrInvalidLibrary)

	err = s.CreateLibrary(ctx, testLibrary("x", "/Go/Echo"))
	assert.ErrorIs(t, err, ErrInvalidLibrary, "uppercase ecosystem must be rejected")
}

func TestUpdateLibrary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testLibrary("alpha", "/go/alpha")
	b := testLibrary("beta", "/go/beta")
	require.NoError(t, s.CreateLibrary(ctx, a))
	require.NoError(t, s.CreateLibrary(ctx, b))

	a.Description = "updated"
	a.Aliases = []string{"alef"}
	require.NoError(t, s.UpdateLibrary(ctx, a))

	got, err := s.GetLibrary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, []string{"alef"}, got.Aliases)

	// Renaming onto an existing name is rejected.
	a.Name = "beta"
	assert.ErrorIs(t, s.UpdateLibrary(ctx, a), ErrDuplicateName)
}

func TestDeleteLibraryBlockedWhileDocumentsExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	doc := &Document{
		ID:         uuid.NewString(),
		LibraryID:  lib.ID,
		Source:     "upload",
		SourceType: "markdown",
	}
	require.NoError(t, s.ReplaceDocument(ctx, doc, testChunks(doc, 2)))

	assert.ErrorIs(t, s.DeleteLibrary(ctx, lib.ID), ErrLibraryInUse)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))
	require.NoError(t, s.DeleteLibrary(ctx, lib.ID))

	_, err := s.GetLibrary(ctx, lib.ID)
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestReplaceDocumentPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	doc := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.ReplaceDocument(ctx, doc, testChunks(doc, 3)))
	firstCreated := doc.CreatedAt
	require.False(t, firstCreated.IsZero())

	// Re-ingest with fewer chunks: count shrinks, created_at survives.
	again := &Document{ID: doc.ID, LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.ReplaceDocument(ctx, again, testChunks(again, 2)))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChunkCount)
	assert.True(t, got.CreatedAt.Equal(firstCreated))

	chunks, err := s.GetDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, 2, ch.ChunkTotal)
	}
}

func TestReplaceDocumentRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	doc := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	chunks := testChunks(doc, 1)
	chunks[0].Vector = []float32{1, 2}

	assert.ErrorIs(t, s.ReplaceDocument(ctx, doc, chunks), ErrDimensionMismatch)
}

func TestSearchChunksRanksAndFiltersPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	doc := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.ReplaceDocument(ctx, doc, testChunks(doc, 4)))

	// A pending document's chunks must not surface.
	pending := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.MarkDocumentPending(ctx, pending))

	hits, err := s.SearchChunks(ctx, lib.ID, testVector(1), 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, 1, hits[0].Chunk.ChunkIndex, "chunk on the query axis ranks first")
	for _, hit := range hits {
		assert.Equal(t, doc.ID, hit.Chunk.DocumentID)
	}

	// k larger than the collection is clamped, not an error.
	hits, err = s.SearchChunks(ctx, lib.ID, testVector(0), 100)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestSearchChunksFillsKPastPendingChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	active := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.ReplaceDocument(ctx, active, testChunks(active, 2)))

	// A crashed ingestion: chunks written, record left pending. The
	// stale chunks sit exactly on the query axis so a naive top-k query
	// returns only them.
	stale := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	staleChunks := make([]Chunk, 2)
	for i := range staleChunks {
		staleChunks[i] = Chunk{
			DocumentID: stale.ID,
			LibraryID:  lib.ID,
			Text:       "stale",
			Vector:     testVector(5),
			ChunkIndex: i,
			ChunkTotal: 2,
			Source:     "upload",
			SourceType: "markdown",
		}
	}
	require.NoError(t, s.ReplaceDocument(ctx, stale, staleChunks))
	s.cat.data.Documents[stale.ID].Status = DocumentStatusPending
	require.NoError(t, s.cat.save())

	hits, err := s.SearchChunks(ctx, lib.ID, testVector(5), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2, "pending chunks must not starve active results")
	for _, hit := range hits {
		assert.Equal(t, active.ID, hit.Chunk.DocumentID)
	}
}

func TestSearchChunksUnknownLibrary(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SearchChunks(context.Background(), "missing", testVector(0), 5)
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestSweepOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))

	stale := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.MarkDocumentPending(ctx, stale))

	active := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.ReplaceDocument(ctx, active, testChunks(active, 1)))

	// Nothing is old enough yet.
	removed, err := s.SweepOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// With a zero max age the stale pending record goes; the active
	// document stays.
	removed, err = s.SweepOrphans(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetDocument(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = s.GetDocument(ctx, active.ID)
	assert.NoError(t, err)
}

func TestReopenPersistsAndChecksDimension(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewChromemStore(Options{Path: dir, EmbedderModel: "m", EmbeddingDim: testDim})
	require.NoError(t, err)

	lib := testLibrary("echo", "/go/echo")
	require.NoError(t, s.CreateLibrary(ctx, lib))
	doc := &Document{ID: uuid.NewString(), LibraryID: lib.ID, Source: "upload", SourceType: "markdown"}
	require.NoError(t, s.ReplaceDocument(ctx, doc, testChunks(doc, 2)))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(Options{Path: dir, EmbedderModel: "m", EmbeddingDim: testDim})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)

	chunks, err := reopened.GetDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	// A different dimension must refuse to open.
	_, err = NewChromemStore(Options{Path: dir, EmbedderModel: "m", EmbeddingDim: testDim * 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOperationsAfterClose(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.ListLibraries(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
}
