package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// QueryRequest is the body for POST /api/v1/query.
type QueryRequest struct {
	Library    string `json:"library"`
	Query      string `json:"query"`
	K          int    `json:"k,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// QueryHit is one scored chunk on the wire.
type QueryHit struct {
	store.Chunk
	Score float32 `json:"score"`
}

// QueryResponse is the body for POST /api/v1/query.
type QueryResponse struct {
	Library  *store.Library `json:"library"`
	Chunks   []QueryHit     `json:"chunks"`
	Markdown string         `json:"markdown"`
	Metric   string         `json:"metric"`
}

// ResolveRequest is the body for POST /api/v1/resolve.
type ResolveRequest struct {
	LibraryName string `json:"library_name"`
	Query       string `json:"query,omitempty"`
}

// ResolveMatch is one candidate on the wire.
type ResolveMatch struct {
	Library *store.Library `json:"library"`
	Score   float64        `json:"score"`
}

// ResolveResponse is the body for POST /api/v1/resolve.
type ResolveResponse struct {
	Selected     *store.Library `json:"selected"`
	Score        float64        `json:"score"`
	Alternatives []ResolveMatch `json:"alternatives,omitempty"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := s.query.QueryDocs(c.Request().Context(), query.DocsRequest{
		LibraryRef: req.Library,
		Query:      req.Query,
		K:          req.K,
		SourceType: req.SourceType,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	hits := make([]QueryHit, len(result.Chunks))
	for i, sc := range result.Chunks {
		hits[i] = QueryHit{Chunk: sc.Chunk, Score: sc.Score}
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Library:  result.Library,
		Chunks:   hits,
		Markdown: result.Markdown,
		Metric:   result.Metric,
	})
}

func (s *Server) handleResolve(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := s.query.ResolveLibraryID(c.Request().Context(), query.ResolveRequest{
		LibraryName: req.LibraryName,
		Query:       req.Query,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	alts := make([]ResolveMatch, len(result.Alternatives))
	for i, m := range result.Alternatives {
		alts[i] = ResolveMatch{Library: m.Library, Score: m.Score}
	}
	return c.JSON(http.StatusOK, ResolveResponse{
		Selected:     result.Selected,
		Score:        result.Score,
		Alternatives: alts,
	})
}
