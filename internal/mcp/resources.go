package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const (
	librariesResourceURI  = "context7://libraries"
	documentURIPrefix     = "context7://documents/"
	librariesResourceName = "Library catalog"
)

// handleResourcesList advertises the library catalog plus one resource
// per stored document.
func (h *Handler) handleResourcesList(ctx context.Context, w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	resources := []Resource{{
		URI:         librariesResourceURI,
		Name:        librariesResourceName,
		Description: "All libraries stored in this instance, as JSON",
		MimeType:    "application/json",
	}}

	docs, err := h.store.ListDocuments(ctx, "")
	if err != nil {
		h.writeServiceError(w, r, req.ID, err)
		return
	}
	for _, doc := range docs {
		if doc.Status != store.DocumentStatusActive {
			continue
		}
		resources = append(resources, Resource{
			URI:         documentURIPrefix + doc.ID,
			Name:        doc.Title,
			Description: fmt.Sprintf("Document from %s", doc.Source),
			MimeType:    "text/markdown",
		})
	}

	h.writeResult(w, r, req.ID, ResourcesListResult{Resources: resources})
}

func (h *Handler) handleResourcesRead(ctx context.Context, w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(w, r, req.ID, CodeInvalidParams, fmt.Sprintf("invalid resources/read params: %v", err), nil)
		return
	}

	switch {
	case params.URI == librariesResourceURI:
		libs, err := h.store.ListLibraries(ctx)
		if err != nil {
			h.writeServiceError(w, r, req.ID, err)
			return
		}
		body, err := json.MarshalIndent(libs, "", "  ")
		if err != nil {
			h.writeServiceError(w, r, req.ID, err)
			return
		}
		h.writeResult(w, r, req.ID, ResourcesReadResult{Contents: []ResourceContents{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     string(body),
		}}})

	case strings.HasPrefix(params.URI, documentURIPrefix):
		id := strings.TrimPrefix(params.URI, documentURIPrefix)
		content, err := h.ingest.DocumentContent(ctx, id)
		if err != nil {
			h.writeServiceError(w, r, req.ID, err)
			return
		}
		h.writeResult(w, r, req.ID, ResourcesReadResult{Contents: []ResourceContents{{
			URI:      params.URI,
			MimeType: "text/markdown",
			Text:     content,
		}}})

	default:
		h.writeError(w, r, req.ID, CodeInvalidParams,
			fmt.Sprintf("unknown resource uri: %s", params.URI), nil)
	}
}
