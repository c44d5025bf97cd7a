package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// LibraryRequest is the body for POST and PUT on libraries.
type LibraryRequest struct {
	Name             string   `json:"name"`
	Language         string   `json:"language"`
	Ecosystem        string   `json:"ecosystem"`
	Context7ID       string   `json:"context7_id,omitempty"`
	Description      string   `json:"description,omitempty"`
	ShortDescription string   `json:"short_description,omitempty"`
	Aliases          []string `json:"aliases,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	Category         string   `json:"category,omitempty"`
	HomepageURL      string   `json:"homepage_url,omitempty"`
	RepositoryURL    string   `json:"repository_url,omitempty"`
	Author           string   `json:"author,omitempty"`
	License          string   `json:"license,omitempty"`
	Status           string   `json:"status,omitempty"`
	PopularityScore  int      `json:"popularity_score,omitempty"`
}

func (r LibraryRequest) toLibrary() *store.Library {
	return &store.Library{
		Name:             r.Name,
		Language:         r.Language,
		Ecosystem:        r.Ecosystem,
		Context7ID:       r.Context7ID,
		Description:      r.Description,
		ShortDescription: r.ShortDescription,
		Aliases:          r.Aliases,
		Keywords:         r.Keywords,
		Category:         r.Category,
		HomepageURL:      r.HomepageURL,
		RepositoryURL:    r.RepositoryURL,
		Author:           r.Author,
		License:          r.License,
		Status:           r.Status,
		PopularityScore:  r.PopularityScore,
	}
}

// LibraryPatch carries a partial update; absent fields stay untouched.
type LibraryPatch struct {
	Description      *string   `json:"description"`
	ShortDescription *string   `json:"short_description"`
	Aliases          *[]string `json:"aliases"`
	Keywords         *[]string `json:"keywords"`
	Category         *string   `json:"category"`
	HomepageURL      *string   `json:"homepage_url"`
	RepositoryURL    *string   `json:"repository_url"`
	Author           *string   `json:"author"`
	License          *string   `json:"license"`
	Status           *string   `json:"status"`
	PopularityScore  *int      `json:"popularity_score"`
}

// LibraryDetail is a library plus its computed document count.
type LibraryDetail struct {
	store.Library
	DocumentCount int `json:"document_count"`
}

// LibraryList is the body for GET /api/v1/libraries.
type LibraryList struct {
	Libraries []*store.Library `json:"libraries"`
	Total     int              `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

func (s *Server) handleCreateLibrary(c echo.Context) error {
	var req LibraryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	lib := req.toLibrary()
	if err := s.store.CreateLibrary(c.Request().Context(), lib); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, lib)
}

func (s *Server) handleListLibraries(c echo.Context) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	libs, err := s.store.ListLibraries(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}

	total := len(libs)
	page := paginate(libs, limit, offset)
	return c.JSON(http.StatusOK, LibraryList{
		Libraries: page,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) handleGetLibrary(c echo.Context) error {
	ctx := c.Request().Context()
	lib, err := s.store.GetLibrary(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	docs, err := s.store.ListDocuments(ctx, lib.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, LibraryDetail{Library: *lib, DocumentCount: len(docs)})
}

func (s *Server) handlePatchLibrary(c echo.Context) error {
	ctx := c.Request().Context()
	lib, err := s.store.GetLibrary(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}

	var patch LibraryPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	applyPatch(lib, patch)

	if err := s.store.UpdateLibrary(ctx, lib); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, lib)
}

func (s *Server) handlePutLibrary(c echo.Context) error {
	var req LibraryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	lib := req.toLibrary()
	lib.ID = c.Param("id")
	if err := s.store.UpdateLibrary(c.Request().Context(), lib); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, lib)
}

func (s *Server) handleDeleteLibrary(c echo.Context) error {
	if err := s.store.DeleteLibrary(c.Request().Context(), c.Param("id")); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func applyPatch(lib *store.Library, patch LibraryPatch) {
	if patch.Description != nil {
		lib.Description = *patch.Description
	}
	if patch.ShortDescription != nil {
		lib.ShortDescription = *patch.ShortDescription
	}
	if patch.Aliases != nil {
		lib.Aliases = *patch.Aliases
	}
	if patch.Keywords != nil {
		lib.Keywords = *patch.Keywords
	}
	if patch.Category != nil {
		lib.Category = *patch.Category
	}
	if patch.HomepageURL != nil {
		lib.HomepageURL = *patch.HomepageURL
	}
	if patch.RepositoryURL != nil {
		lib.RepositoryURL = *patch.RepositoryURL
	}
	if patch.Author != nil {
		lib.Author = *patch.Author
	}
	if patch.License != nil {
		lib.License = *patch.License
	}
	if patch.Status != nil {
		lib.Status = *patch.Status
	}
	if patch.PopularityScore != nil {
		lib.PopularityScore = *patch.PopularityScore
	}
}

func pageParams(c echo.Context) (limit, offset int, err error) {
	limit = defaultPageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, errInvalidPage
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errInvalidPage
		}
	}
	return limit, offset, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
