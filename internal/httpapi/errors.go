package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// ErrorPayload is the wire shape of every error response.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// errorStatus maps a service error to an HTTP status and stable code
// token. This is the single place REST error mapping happens.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrDuplicateName):
		return http.StatusConflict, "library.duplicate_name"
	case errors.Is(err, store.ErrDuplicateContext7ID):
		return http.StatusConflict, "library.duplicate_context7_id"
	case errors.Is(err, store.ErrLibraryInUse):
		return http.StatusConflict, "library.in_use"
	case errors.Is(err, store.ErrLibraryNotFound):
		return http.StatusNotFound, "library.not_found"
	case errors.Is(err, store.ErrDocumentNotFound):
		return http.StatusNotFound, "document.not_found"
	case errors.Is(err, store.ErrInvalidLibrary):
		return http.StatusBadRequest, "library.invalid"
	case errors.Is(err, store.ErrDimensionMismatch):
		return http.StatusBadRequest, "chunk.dimension_mismatch"
	case errors.Is(err, query.ErrInvalidRequest),
		errors.Is(err, ingest.ErrInvalidRequest):
		return http.StatusBadRequest, "request.invalid"
	case errors.Is(err, ingest.ErrInvalidContent),
		errors.Is(err, ingest.ErrEmptyContent):
		return http.StatusBadRequest, "document.invalid_content"
	case errors.Is(err, ingest.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge, "document.too_large"
	// A failed source fetch rejects the request; it says nothing about
	// this service's availability.
	case errors.Is(err, ingest.ErrFetchFailed):
		return http.StatusBadRequest, "fetch.failed"
	case errors.Is(err, ingest.ErrBusy):
		return http.StatusServiceUnavailable, "ingest.busy"
	case errors.Is(err, ingest.ErrUpstreamUnavailable),
		errors.Is(err, ingest.ErrUpstreamDisabled):
		return http.StatusServiceUnavailable, "upstream.unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "upstream.unavailable"
	default:
		return http.StatusInternalServerError, "store.internal"
	}
}

// writeError renders err as {code, message}. Internal errors are logged
// in full and surfaced with a generic message.
func (s *Server) writeError(c echo.Context, err error) error {
	status, code := errorStatus(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
		message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "5")
	}
	return c.JSON(status, ErrorPayload{Code: code, Message: message})
}

var errInvalidPage = errors.New("limit and offset must be non-negative integers")

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorPayload{Code: "request.invalid", Message: message})
}
