package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// CreateDocumentRequest is the body for POST /api/v1/documents.
type CreateDocumentRequest struct {
	LibraryID string `json:"library_id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Strategy  string `json:"strategy,omitempty"`
}

// FetchDocumentRequest is the body for POST /api/v1/documents/fetch.
type FetchDocumentRequest struct {
	LibraryID string `json:"library_id"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
}

// ReplaceContentRequest is the body for PATCH /api/v1/documents/{id}/content.
type ReplaceContentRequest struct {
	Content string `json:"content"`
}

// DocumentList is the body for GET /api/v1/documents.
type DocumentList struct {
	Documents []*store.Document `json:"documents"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// DocumentContent is the body for GET /api/v1/documents/{id}/content.
type DocumentContent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleCreateDocument(c echo.Context) error {
	var req CreateDocumentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	doc, err := s.ingest.UploadDocument(c.Request().Context(), ingest.UploadRequest{
		LibraryID: req.LibraryID,
		Title:     req.Title,
		Content:   req.Content,
		Strategy:  req.Strategy,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleFetchDocument(c echo.Context) error {
	var req FetchDocumentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	doc, err := s.ingest.FetchDocument(c.Request().Context(), ingest.FetchRequest{
		LibraryID: req.LibraryID,
		URL:       req.URL,
		Title:     req.Title,
		Strategy:  req.Strategy,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	docs, err := s.store.ListDocuments(c.Request().Context(), c.QueryParam("library_id"))
	if err != nil {
		return s.writeError(c, err)
	}

	total := len(docs)
	page := paginate(docs, limit, offset)
	return c.JSON(http.StatusOK, DocumentList{
		Documents: page,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.store.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleGetDocumentContent(c echo.Context) error {
	ctx := c.Request().Context()
	doc, err := s.store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	content, err := s.ingest.DocumentContent(ctx, doc.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, DocumentContent{ID: doc.ID, Title: doc.Title, Content: content})
}

func (s *Server) handleReplaceDocumentContent(c echo.Context) error {
	var req ReplaceContentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	doc, err := s.ingest.ReplaceContent(c.Request().Context(), c.Param("id"), req.Content)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.store.DeleteDocument(c.Request().Context(), c.Param("id")); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
