package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/embedder"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const testDim = 64

func newTestServer(t *testing.T) *Server {
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

	ing, err := ingest.NewService(st, emb, ingest.Config{}, zap.NewNop())
	require.NoError(t, err)
	qry, err := query.NewService(st, emb, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(st, ing, qry, nil, Config{}, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echoHeaderContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func createLibrary(t *testing.T, srv *Server, name, language, ecosystem string) store.Library {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/libraries", LibraryRequest{
		Name: name, Language: language, Ecosystem: ecosystem,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[store.Library](t, rec)
}

func createDocument(t *testing.T, srv *Server, libraryID, title, content string) store.Document {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/documents", CreateDocumentRequest{
		LibraryID: libraryID, Title: title, Content: content,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[store.Document](t, rec)
}

const hooksContent = "### useState\nAdds state to a function component.\n### useEffect\nRuns effects after render.\n"

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestIngestThenQuery(t *testing.T) {
	srv := newTestServer(t)

	lib := createLibrary(t, srv, "React", "JavaScript", "npm")
	assert.Equal(t, "/npm/react", lib.Context7ID)

	doc := createDocument(t, srv, lib.ID, "Hooks", hooksContent)
	assert.Equal(t, 2, doc.ChunkCount)

	rec := do(t, srv, http.MethodPost, "/api/v1/query", QueryRequest{
		Library: "/npm/react", Query: "adding state", K: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[QueryResponse](t, rec)
	require.Len(t, resp.Chunks, 1)
	assert.Contains(t, resp.Chunks[0].Text, "Adds state")
	assert.Equal(t, "cosine", resp.Metric)
	assert.Contains(t, resp.Markdown, "useState")
}

func TestDuplicateLibraryName(t *testing.T) {
	srv := newTestServer(t)
	createLibrary(t, srv, "React", "JavaScript", "npm")

	rec := do(t, srv, http.MethodPost, "/api/v1/libraries", LibraryRequest{
		Name: "React", Language: "JavaScript", Ecosystem: "npm", Context7ID: "/npm/react-two",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "library.duplicate_name", decode[ErrorPayload](t, rec).Code)
}

func TestReplaceContentPreservesCreatedAt(t *testing.T) {
	srv := newTestServer(t)
	lib := createLibrary(t, srv, "React", "JavaScript", "npm")
	doc := createDocument(t, srv, lib.ID, "Hooks", hooksContent)

	rec := do(t, srv, http.MethodPatch, "/api/v1/documents/"+doc.ID+"/content",
		ReplaceContentRequest{Content: "### useState\nv2 of the state docs.\n"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[store.Document](t, rec)
	assert.Equal(t, 1, updated.ChunkCount)
	assert.True(t, updated.CreatedAt.Equal(doc.CreatedAt),
		"created_at must survive replacement: %s vs %s", updated.CreatedAt, doc.CreatedAt)
}

func TestLibraryDeletionSafety(t *testing.T) {
	srv := newTestServer(t)
	lib := createLibrary(t, srv, "React", "JavaScript", "npm")
	doc := createDocument(t, srv, lib.ID, "Hooks", hooksContent)

	rec := do(t, srv, http.MethodDelete, "/api/v1/libraries/"+lib.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "library.in_use", decode[ErrorPayload](t, rec).Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/libraries/"+lib.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/libraries/"+lib.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetLibraryWithDocumentCount(t *testing.T) {
	srv := newTestServer(t)
	lib := createLibrary(t, srv, "React", "JavaScript", "npm")
	createDocument(t, srv, lib.ID, "Hooks", hooksContent)
	createDocument(t, srv, lib.ID, "Rendering", "### JSX\nMarkup in JavaScript.\n")

	rec := do(t, srv, http.MethodGet, "/api/v1/libraries/"+lib.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[LibraryDetail](t, rec)
	assert.Equal(t, 2, detail.DocumentCount)
	assert.Equal(t, "React", detail.Name)
}

func TestListLibrariesPagination(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 5; i++ {
		createLibrary(t, srv, fmt.Sprintf("lib%d", i), "Go", "go")
	}

	rec := do(t, srv, http.MethodGet, "/api/v1/libraries?limit=2&offset=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[LibraryList](t, rec)
	assert.Equal(t, 5, list.Total)
	assert.Len(t, list.Libraries, 1)

	rec = do(t, srv, http.MethodGet, "/api/v1/libraries?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDocumentsFilteredByLibrary(t *testing.T) {
	srv := newTestServer(t)
	a := createLibrary(t, srv, "React", "JavaScript", "npm")
	b := createLibrary(t, srv, "Vue", "JavaScript", "npm")
	createDocument(t, srv, a.ID, "Hooks", hooksContent)
	createDocument(t, srv, b.ID, "Guide", "### Reactivity\nRefs and computed values.\n")

	rec := do(t, srv, http.MethodGet, "/api/v1/documents?library_id="+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[DocumentList](t, rec)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "Hooks", list.Documents[0].Title)

	rec = do(t, srv, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[DocumentList](t, rec).Total)

	rec = do(t, srv, http.MethodGet, "/api/v1/documents?library_id=lib-go-none-00000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentContentRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	lib := createLibrary(t, srv, "React", "JavaScript", "npm")
	doc := createDocument(t, srv, lib.ID, "Hooks", hooksContent)

	rec := do(t, srv, http.MethodGet, "/api/v1/documents/"+doc.ID+"/content", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	content := decode[DocumentContent](t, rec)
	assert.Contains(t, content.Content, "### useState")
	assert.Contains(t, content.Content, "### useEffect")
}

func TestPatchLibrary(t *testing.T) {
	srv := newTestServer(t)
	lib := createLibrary(t, srv, "React", "JavaScript", "npm")

	rec := do(t, srv, http.MethodPatch, "/api/v1/libraries/"+lib.ID, map[string]any{
		"description": "A JavaScript UI library",
		"keywords":    []string{"ui", "hooks"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[store.Library](t, rec)
	assert.Equal(t, "A JavaScript UI library", updated.Description)
	assert.Equal(t, []string{"ui", "hooks"}, updated.Keywords)
	assert.Equal(t, "React", updated.Name, "patch must not clear untouched fields")
	assert.True(t, updated.UpdatedAt.After(lib.UpdatedAt) || updated.UpdatedAt.Equal(lib.UpdatedAt))
}

func TestResolveEndpoint(t *testing.T) {
	srv := newTestServer(t)
	createLibrary(t, srv, "React", "JavaScript", "npm")
	createLibrary(t, srv, "Preact", "JavaScript", "npm")

	rec := do(t, srv, http.MethodPost, "/api/v1/resolve", ResolveRequest{
		LibraryName: "react", Query: "component state",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ResolveResponse](t, rec)
	require.NotNil(t, resp.Selected)
	assert.Equal(t, "/npm/react", resp.Selected.Context7ID)
	assert.Greater(t, resp.Score, 0.0)

	rec = do(t, srv, http.MethodPost, "/api/v1/resolve", ResolveRequest{LibraryName: "no-such-lib"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "library.not_found", decode[ErrorPayload](t, rec).Code)
}

func TestValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/libraries", LibraryRequest{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "library.invalid", decode[ErrorPayload](t, rec).Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/documents", CreateDocumentRequest{
		LibraryID: "lib-go-none-00000000", Content: "# X\n\nbody",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/query", QueryRequest{Library: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShutdownIsClean(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestLibraryPopularityScoreRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/libraries", LibraryRequest{
		Name: "React", Language: "JavaScript", Ecosystem: "npm", PopularityScore: 87,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lib := decode[store.Library](t, rec)
	assert.Equal(t, 87, lib.PopularityScore)

	score := 42
	rec = do(t, srv, http.MethodPatch, "/api/v1/libraries/"+lib.ID, LibraryPatch{
		PopularityScore: &score,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 42, decode[store.Library](t, rec).PopularityScore)

	rec = do(t, srv, http.MethodGet, "/api/v1/libraries/"+lib.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42, decode[LibraryDetail](t, rec).PopularityScore)
}

func TestFetchDocumentFailureIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	lib := createLibrary(t, srv, "React", "JavaScript", "npm")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	rec := do(t, srv, http.MethodPost, "/api/v1/documents/fetch", FetchDocumentRequest{
		LibraryID: lib.ID, URL: upstream.URL + "/missing.md",
	})
	// The source failed to fetch; the request is rejected rather than
	// the service reported unavailable.
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "fetch.failed", decode[ErrorPayload](t, rec).Code)
}
