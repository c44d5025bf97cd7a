// Package stdio runs the documentation tools over the MCP stdio
// transport, for clients that spawn the server as a subprocess instead
// of speaking Streamable HTTP.
package stdio

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// Server wraps an SDK MCP server exposing the documentation tools.
type Server struct {
	mcp    *mcp.Server
	query  *query.Service
	ingest *ingest.Service
	store  store.ChunkStore
	logger *zap.Logger
}

// Config configures the stdio server.
type Config struct {
	Name    string
	Version string
}

type resolveInput struct {
	LibraryName string `json:"libraryName" jsonschema:"required,Library name to resolve, e.g. react or solid start"`
	Query       string `json:"query,omitempty" jsonschema:"The documentation question, used to disambiguate similarly named libraries"`
}

type resolveOutput struct {
	Context7ID   string  `json:"context7Id" jsonschema:"Canonical Context7 id of the selected library"`
	Name         string  `json:"name" jsonschema:"Library name"`
	Score        float64 `json:"score" jsonschema:"Resolution confidence score"`
	Alternatives []struct {
		Context7ID string  `json:"context7Id"`
		Score      float64 `json:"score"`
	} `json:"alternatives,omitempty" jsonschema:"Close runners-up within the tie window"`
}

type queryDocsInput struct {
	LibraryID string `json:"libraryId" jsonschema:"required,Canonical Context7 id (e.g. /npm/react) or internal library id"`
	Query     string `json:"query" jsonschema:"required,What to look up in the documentation"`
	K         int    `json:"k,omitempty" jsonschema:"Maximum chunks to return (default 5, max 50)"`
}

type queryDocsOutput struct {
	Markdown string `json:"markdown" jsonschema:"Matching documentation chunks rendered as markdown"`
	Chunks   int    `json:"chunks" jsonschema:"Number of chunks returned"`
}

type fetchDocsInput struct {
	LibraryName    string `json:"libraryName" jsonschema:"required,Library name or canonical Context7 id"`
	Query          string `json:"query" jsonschema:"required,What to look up in the documentation"`
	FetchIfMissing bool   `json:"fetchIfMissing,omitempty" jsonschema:"Mirror the library from upstream when it is not stored locally"`
}

// NewServer builds the stdio MCP server. logger may be nil.
func NewServer(cfg Config, qry *query.Service, ing *ingest.Service, st store.ChunkStore, logger *zap.Logger) (*Server, error) {
	if qry == nil {
		return nil, fmt.Errorf("query service is required")
	}
	if ing == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "c7d"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcp:    mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		query:  qry,
		ingest: ing,
		store:  st,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "resolve-library-id",
		Description: "Resolve a free-form library name to its canonical Context7 id. Returns the best match plus close alternatives.",
	}, s.handleResolve)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query-docs",
		Description: "Retrieve the most relevant documentation chunks for a library, rendered as markdown.",
	}, s.handleQueryDocs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch-library-docs",
		Description: "Resolve a library and return its documentation, optionally mirroring it from the configured upstream when absent locally.",
	}, s.handleFetchDocs)
}

func (s *Server) handleResolve(ctx context.Context, req *mcp.CallToolRequest, args resolveInput) (*mcp.CallToolResult, resolveOutput, error) {
	result, err := s.query.ResolveLibraryID(ctx, query.ResolveRequest{
		LibraryName: args.LibraryName,
		Query:       args.Query,
	})
	if err != nil {
		return nil, resolveOutput{}, err
	}

	out := resolveOutput{
		Context7ID: result.Selected.Context7ID,
		Name:       result.Selected.Name,
		Score:      result.Score,
	}
	for _, alt := range result.Alternatives {
		out.Alternatives = append(out.Alternatives, struct {
			Context7ID string  `json:"context7Id"`
			Score      float64 `json:"score"`
		}{Context7ID: alt.Library.Context7ID, Score: alt.Score})
	}
	return nil, out, nil
}

func (s *Server) handleQueryDocs(ctx context.Context, req *mcp.CallToolRequest, args queryDocsInput) (*mcp.CallToolResult, queryDocsOutput, error) {
	result, err := s.query.QueryDocs(ctx, query.DocsRequest{
		LibraryRef: args.LibraryID,
		Query:      args.Query,
		K:          args.K,
	})
	if err != nil {
		return nil, queryDocsOutput{}, err
	}
	return nil, queryDocsOutput{Markdown: result.Markdown, Chunks: len(result.Chunks)}, nil
}

func (s *Server) handleFetchDocs(ctx context.Context, req *mcp.CallToolRequest, args fetchDocsInput) (*mcp.CallToolResult, queryDocsOutput, error) {
	if args.LibraryName == "" {
		return nil, queryDocsOutput{}, fmt.Errorf("%w: libraryName is required", query.ErrInvalidRequest)
	}

	libraryRef := args.LibraryName
	if args.FetchIfMissing {
		if store.ValidateContext7ID(args.LibraryName) == nil {
			lib, err := s.ingest.MirrorLibrary(ctx, args.LibraryName, args.Query)
			if err != nil {
				return nil, queryDocsOutput{}, err
			}
			libraryRef = lib.Context7ID
		}
	}
	if !strings.HasPrefix(libraryRef, "/") {
		resolved, err := s.query.ResolveLibraryID(ctx, query.ResolveRequest{
			LibraryName: args.LibraryName,
			Query:       args.Query,
		})
		if err != nil {
			return nil, queryDocsOutput{}, err
		}
		libraryRef = resolved.Selected.Context7ID
	}

	result, err := s.query.QueryDocs(ctx, query.DocsRequest{
		LibraryRef: libraryRef,
		Query:      args.Query,
	})
	if err != nil {
		return nil, queryDocsOutput{}, err
	}
	return nil, queryDocsOutput{Markdown: result.Markdown, Chunks: len(result.Chunks)}, nil
}

// Run serves MCP over stdin/stdout until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}
