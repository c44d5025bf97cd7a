package query

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/embedder"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const testDim = 128

type fixture struct {
	store    *store.ChromemStore
	embedder embedder.Embedder
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewChromemStore(store.Options{
		Path:          t.TempDir(),
		EmbedderModel: "hash",
		EmbeddingDim:  testDim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedder.NewHash(testDim)
	require.NoError(t, err)

	svc, err := NewService(st, emb, zap.NewNop())
	require.NoError(t, err)

	return &fixture{store: st, embedder: emb, svc: svc}
}

func (f *fixture) addLibrary(t *testing.T, lib *store.Library) *store.Library {
	t.Helper()
	require.NoError(t, f.store.CreateLibrary(context.Background(), lib))
	return lib
}

// addDocument chunks nothing; it embeds the given sections directly.
func (f *fixture) addDocument(t *testing.T, lib *store.Library, title string, sections map[string]string) *store.Document {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{
		ID:         uuid.NewString(),
		LibraryID:  lib.ID,
		Title:      title,
		Source:     "upload",
		SourceType: "markdown",
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	// Map order is random; fix it for deterministic chunk indexes.
	sort.Strings(names)

	chunks := make([]store.Chunk, 0, len(names))
	for i, name := range names {
		vec, err := f.embedder.EmbedDocuments(ctx, []string{sections[name]})
		require.NoError(t, err)
		chunks = append(chunks, store.Chunk{
			DocumentID: doc.ID,
			LibraryID:  lib.ID,
			Title:      name,
			Text:       sections[name],
			Vector:     vec[0],
			ChunkIndex: i,
			ChunkTotal: len(names),
			Source:     "upload",
			SourceType: "markdown",
		})
	}
	require.NoError(t, f.store.ReplaceDocument(ctx, doc, chunks))
	return doc
}

func TestQueryDocsRanksRelevantChunkFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lib := f.addLibrary(t, &store.Library{Name: "React", Language: "JavaScript", Ecosystem: "npm"})
	f.addDocument(t, lib, "Hooks", map[string]string{
		"useState":  "useState adds state to function components, returning state and a setter.",
		"useEffect": "useEffect runs side effects after render, with a dependency array.",
	})

	res, err := f.svc.QueryDocs(ctx, DocsRequest{LibraryRef: "/npm/react", Query: "adding state to a component", K: 2})
	require.NoError(t, err)

	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "useState", res.Chunks[0].Chunk.Title)
	if len(res.Chunks) > 1 {
		assert.Greater(t, res.Chunks[0].Score, res.Chunks[1].Score)
	}
	assert.Equal(t, "cosine", res.Metric)

	assert.Contains(t, res.Markdown, "### useState (section ")
	assert.Contains(t, res.Markdown, "Source: upload")
}

func TestQueryDocsAcceptsInternalID(t *testing.T) {
	f := newFixture(t)
	lib := f.addLibrary(t, &store.Library{Name: "Echo", Language: "Go", Ecosystem: "go"})
	f.addDocument(t, lib, "Guide", map[string]string{
		"Routing": "register handlers on the router with method and path",
	})

	res, err := f.svc.QueryDocs(context.Background(), DocsRequest{LibraryRef: lib.ID, Query: "router"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Chunks)
}

func TestQueryDocsEmptyLibraryIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{Name: "Empty", Language: "Go", Ecosystem: "go"})

	res, err := f.svc.QueryDocs(context.Background(), DocsRequest{LibraryRef: "/go/empty", Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Contains(t, res.Markdown, "No documentation chunks found")
}

func TestQueryDocsUnknownLibrary(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.QueryDocs(context.Background(), DocsRequest{LibraryRef: "/npm/ghost", Query: "anything"})
	assert.ErrorIs(t, err, store.ErrLibraryNotFound)
}

func TestQueryDocsValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.QueryDocs(context.Background(), DocsRequest{LibraryRef: "", Query: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.QueryDocs(context.Background(), DocsRequest{LibraryRef: "/npm/react", Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestQueryDocsSourceTypeFilter(t *testing.T) {
	f := newFixture(t)
	lib := f.addLibrary(t, &store.Library{Name: "Mixed", Language: "Go", Ecosystem: "go"})
	f.addDocument(t, lib, "Doc", map[string]string{
		"Section": "content about routing and handlers",
	})

	res, err := f.svc.QueryDocs(context.Background(), DocsRequest{
		LibraryRef: lib.ID, Query: "routing", SourceType: "html",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks, "markdown chunks must not match an html filter")
}

func TestResolveExactName(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{Name: "React", Language: "JavaScript", Ecosystem: "npm", PopularityScore: 90})
	f.addLibrary(t, &store.Library{Name: "Preact", Language: "JavaScript", Ecosystem: "npm", PopularityScore: 40})

	res, err := f.svc.ResolveLibraryID(context.Background(), ResolveRequest{LibraryName: "React", Query: "components"})
	require.NoError(t, err)
	assert.Equal(t, "/npm/react", res.Selected.Context7ID)
	assert.Greater(t, res.Score, 0.5)
}

func TestResolveAlias(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{
		Name: "Next.js", Language: "JavaScript", Ecosystem: "npm",
		Aliases: []string{"nextjs", "next"},
	})

	res, err := f.svc.ResolveLibraryID(context.Background(), ResolveRequest{LibraryName: "nextjs"})
	require.NoError(t, err)
	assert.Equal(t, "/npm/next.js", res.Selected.Context7ID)
}

func TestResolveDisambiguatesByQuery(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{
		Name: "start", Language: "JavaScript", Ecosystem: "npm",
		Description: "a generic project starter",
	})
	f.addLibrary(t, &store.Library{
		Name: "start", Language: "JavaScript", Ecosystem: "websites",
		Context7ID:  "/websites/solidjs_solid-start",
		Description: "SolidStart, the SolidJS meta framework with server functions and redirects",
		Keywords:    []string{"solidjs", "solid-start", "redirect"},
	})

	res, err := f.svc.ResolveLibraryID(context.Background(), ResolveRequest{
		LibraryName: "solidstart",
		Query:       "How to throw a redirect in SolidStart",
	})
	require.NoError(t, err)
	assert.Equal(t, "/websites/solidjs_solid-start", res.Selected.Context7ID)
}

func TestResolveNotFound(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{Name: "React", Language: "JavaScript", Ecosystem: "npm"})

	_, err := f.svc.ResolveLibraryID(context.Background(), ResolveRequest{LibraryName: "zig-compiler"})
	assert.ErrorIs(t, err, store.ErrLibraryNotFound)
}

func TestResolveDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{Name: "chart", Language: "JavaScript", Ecosystem: "npm"})
	f.addLibrary(t, &store.Library{Name: "chart", Language: "Python", Ecosystem: "pypi"})

	var first string
	for i := 0; i < 5; i++ {
		res, err := f.svc.ResolveLibraryID(context.Background(), ResolveRequest{LibraryName: "chart"})
		require.NoError(t, err)
		if i == 0 {
			first = res.Selected.Context7ID
			continue
		}
		assert.Equal(t, first, res.Selected.Context7ID)
	}
}

func TestResolveAlternativesWithinTieWindow(t *testing.T) {
	f := newFixture(t)
	f.addLibrary(t, &store.Library{Name: "chart", Language: "JavaScript", Ecosystem: "npm"})
	f.addLibrary(t, &store.Library{Name: "chart", Language: "Python", Ecosystem: "pypi"})

	res, err := f.svc.ResolveLibraryID(context.Background(), ResolveRequest{LibraryName: "chart"})
	require.NoError(t, err)
	require.Len(t, res.Alternatives, 1)
	assert.NotEqual(t, res.Selected.Context7ID, res.Alternatives[0].Library.Context7ID)
}

func TestRenderChunksOrderingNote(t *testing.T) {
	lib := &store.Library{Context7ID: "/go/echo"}
	out := renderChunks(lib, nil)
	assert.True(t, strings.Contains(out, "/go/echo"))
}
