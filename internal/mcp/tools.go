package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// Tool argument shapes. Field names follow the Context7 tool contract.
type resolveLibraryArgs struct {
	LibraryName string `json:"libraryName"`
	Query       string `json:"query"`
}

type queryDocsArgs struct {
	LibraryID string `json:"libraryId"`
	Query     string `json:"query"`
	K         int    `json:"k"`
}

type fetchLibraryDocsArgs struct {
	LibraryName    string `json:"libraryName"`
	Query          string `json:"query"`
	FetchIfMissing bool   `json:"fetchIfMissing"`
}

func (h *Handler) toolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "resolve-library-id",
			Description: "Resolve a free-form library name to its canonical Context7 id. Returns the best match plus close alternatives.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"libraryName": map[string]any{
						"type":        "string",
						"description": "Library name to resolve, e.g. \"react\" or \"solid start\"",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "The documentation question, used to disambiguate similarly named libraries",
					},
				},
				"required": []string{"libraryName"},
			},
		},
		{
			Name:        "query-docs",
			Description: "Retrieve the most relevant documentation chunks for a library, rendered as markdown.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"libraryId": map[string]any{
						"type":        "string",
						"description": "Canonical Context7 id (e.g. /npm/react) or internal library id",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "What to look up in the documentation",
					},
					"k": map[string]any{
						"type":        "integer",
						"description": "Maximum chunks to return (default 5, max 50)",
					},
				},
				"required": []string{"libraryId", "query"},
			},
		},
		{
			Name:        "fetch-library-docs",
			Description: "Resolve a library and return its documentation, optionally mirroring it from the configured upstream when absent locally.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"libraryName": map[string]any{
						"type":        "string",
						"description": "Library name or canonical Context7 id",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "What to look up in the documentation",
					},
					"fetchIfMissing": map[string]any{
						"type":        "boolean",
						"description": "Mirror the library from upstream when it is not stored locally",
					},
				},
				"required": []string{"libraryName", "query"},
			},
		},
	}
}

func (h *Handler) handleToolsCall(ctx context.Context, w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeError(w, r, req.ID, CodeInvalidParams, fmt.Sprintf("invalid tools/call params: %v", err), nil)
		return
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("tool.name", params.Name))

	var (
		text string
		err  error
	)
	switch params.Name {
	case "resolve-library-id":
		text, err = h.callResolveLibrary(ctx, params.Arguments)
	case "query-docs":
		text, err = h.callQueryDocs(ctx, params.Arguments)
	case "fetch-library-docs":
		text, err = h.callFetchLibraryDocs(ctx, params.Arguments)
	default:
		h.writeError(w, r, req.ID, CodeMethodNotFound, fmt.Sprintf("unknown tool: %s", params.Name), nil)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, req.ID, err)
		return
	}

	h.writeResult(w, r, req.ID, ToolsCallResult{
		Content: []TextContent{{Type: "text", Text: text}},
	})
}

func (h *Handler) callResolveLibrary(ctx context.Context, raw json.RawMessage) (string, error) {
	var args resolveLibraryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("%w: %v", query.ErrInvalidRequest, err)
	}

	result, err := h.query.ResolveLibraryID(ctx, query.ResolveRequest{
		LibraryName: args.LibraryName,
		Query:       args.Query,
	})
	if err != nil {
		return "", err
	}
	return renderResolveResult(result), nil
}

func (h *Handler) callQueryDocs(ctx context.Context, raw json.RawMessage) (string, error) {
	var args queryDocsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("%w: %v", query.ErrInvalidRequest, err)
	}

	result, err := h.query.QueryDocs(ctx, query.DocsRequest{
		LibraryRef: args.LibraryID,
		Query:      args.Query,
		K:          args.K,
	})
	if err != nil {
		return "", err
	}
	return result.Markdown, nil
}

// callFetchLibraryDocs resolves locally first. A miss with
// fetchIfMissing set mirrors the library from upstream when the name is
// already a canonical id; free-form names cannot be mirrored because
// there is nothing to derive the upstream path from.
func (h *Handler) callFetchLibraryDocs(ctx context.Context, raw json.RawMessage) (string, error) {
	var args fetchLibraryDocsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("%w: %v", query.ErrInvalidRequest, err)
	}

	libraryRef, err := h.resolveOrMirror(ctx, args)
	if err != nil {
		return "", err
	}

	result, err := h.query.QueryDocs(ctx, query.DocsRequest{
		LibraryRef: libraryRef,
		Query:      args.Query,
	})
	if err != nil {
		return "", err
	}
	return result.Markdown, nil
}

func (h *Handler) resolveOrMirror(ctx context.Context, args fetchLibraryDocsArgs) (string, error) {
	isCanonical := strings.HasPrefix(args.LibraryName, "/") &&
		store.ValidateContext7ID(args.LibraryName) == nil

	if isCanonical {
		if _, err := h.store.GetLibraryByContext7ID(ctx, args.LibraryName); err == nil {
			return args.LibraryName, nil
		} else if !errors.Is(err, store.ErrLibraryNotFound) {
			return "", err
		}
		if !args.FetchIfMissing {
			return "", fmt.Errorf("%w: %s", store.ErrLibraryNotFound, args.LibraryName)
		}
		lib, err := h.ingest.MirrorLibrary(ctx, args.LibraryName, args.Query)
		if err != nil {
			return "", err
		}
		return lib.Context7ID, nil
	}

	result, err := h.query.ResolveLibraryID(ctx, query.ResolveRequest{
		LibraryName: args.LibraryName,
		Query:       args.Query,
	})
	if err != nil {
		return "", err
	}
	return result.Selected.Context7ID, nil
}

func renderResolveResult(result *query.ResolveResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Selected: %s (score %.3f)\n", result.Selected.Context7ID, result.Score)
	fmt.Fprintf(&b, "Name: %s\nLanguage: %s\nEcosystem: %s\n",
		result.Selected.Name, result.Selected.Language, result.Selected.Ecosystem)
	if result.Selected.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", result.Selected.Description)
	}
	if len(result.Alternatives) > 0 {
		b.WriteString("\nAlternatives:\n")
		for _, alt := range result.Alternatives {
			fmt.Fprintf(&b, "- %s (score %.3f)\n", alt.Library.Context7ID, alt.Score)
		}
	}
	return b.String()
}
