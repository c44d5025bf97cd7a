package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/ingest"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/query"
	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const (
	instrumentationName = "c7d.mcp"
	sessionHeader       = "Mcp-Session-Id"
	heartbeatInterval   = 30 * time.Second
)

var tracer = otel.Tracer(instrumentationName)

// Handler serves the /mcp endpoint. It satisfies http.Handler so it
// can mount into any router.
type Handler struct {
	query    *query.Service
	ingest   *ingest.Service
	store    store.ChunkStore
	sessions *SessionStore
	info     ServerInfo
	logger   *zap.Logger
}

// NewHandler builds the MCP endpoint. logger may be nil.
func NewHandler(qry *query.Service, ing *ingest.Service, st store.ChunkStore, sessions *SessionStore, info ServerInfo, logger *zap.Logger) (*Handler, error) {
	if qry == nil {
		return nil, errors.New("query service is required")
	}
	if ing == nil {
		return nil, errors.New("ingest service is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if sessions == nil {
		sessions = NewSessionStore(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		query:    qry,
		ingest:   ing,
		store:    st,
		sessions: sessions,
		info:     info,
		logger:   logger,
	}, nil
}

// Sessions exposes the session store so the daemon can run its janitor.
func (h *Handler) Sessions() *SessionStore {
	return h.sessions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost routes one JSON-RPC request.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "mcp.handlePost")
	defer span.End()

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, nil, CodeParseError, fmt.Sprintf("invalid JSON: %v", err), nil)
		return
	}
	span.SetAttributes(attribute.String("rpc.method", req.Method))

	if req.JSONRPC != "2.0" {
		h.writeError(w, r, req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`, nil)
		return
	}

	if req.Method == "initialize" {
		h.handleInitialize(w, r, req)
		return
	}

	session := h.sessions.Get(r.Header.Get(sessionHeader))
	if session == nil {
		h.writeError(w, r, req.ID, CodeInvalidRequest, "valid Mcp-Session-Id header required", nil)
		return
	}

	switch req.Method {
	case "tools/list":
		h.writeResult(w, r, req.ID, ToolsListResult{Tools: h.toolDefinitions()})
	case "tools/call":
		h.handleToolsCall(ctx, w, r, req)
	case "resources/list":
		h.handleResourcesList(ctx, w, r, req)
	case "resources/read":
		h.handleResourcesRead(ctx, w, r, req)
	case "ping":
		h.writeResult(w, r, req.ID, struct{}{})
	default:
		h.writeError(w, r, req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
	}
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.writeError(w, r, req.ID, CodeInvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
			return
		}
	}

	session := h.sessions.Create(params)
	w.Header().Set(sessionHeader, session.ID)
	w.Header().Set("Mcp-Protocol-Version", session.ProtocolVersion)

	h.logger.Info("mcp session created",
		zap.String("session_id", session.ID),
		zap.String("client", params.ClientInfo.Name),
	)

	h.writeResult(w, r, req.ID, InitializeResult{
		ProtocolVersion: session.ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     map[string]any{},
			Resources: map[string]any{},
		},
		ServerInfo: h.info,
	})
}

// handleStream opens the long-lived server-to-client SSE stream. Only
// heartbeats flow today; the stream exists so clients that expect the
// full Streamable HTTP surface can connect.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Get(r.Header.Get(sessionHeader)) == nil {
		h.writeError(w, r, nil, CodeInvalidRequest, "valid Mcp-Session-Id header required", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" || h.sessions.Get(id) == nil {
		h.writeError(w, r, nil, CodeInvalidRequest, "valid Mcp-Session-Id header required", nil)
		return
	}
	h.sessions.Delete(id)
	h.logger.Info("mcp session terminated", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// wantsSSE reports whether the response should use SSE framing: the
// client asked for text/event-stream without also accepting JSON.
func wantsSSE(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/event-stream") &&
		!strings.Contains(accept, "application/json")
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeMessage emits one JSON-RPC message, framed as a single SSE
// "message" event when the client only accepts text/event-stream.
func (h *Handler) writeMessage(w http.ResponseWriter, r *http.Request, status int, msg any) {
	body, err := json.Marshal(msg)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}

	if wantsSSE(r) {
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, id, result any) {
	h.writeMessage(w, r, http.StatusOK, JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, id any, code int, message string, data map[string]any) {
	h.writeMessage(w, r, http.StatusOK, JSONRPCError{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: code, Message: message, Data: data},
	})
}

// errorCode maps a service error to its JSON-RPC application code.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrLibraryNotFound),
		errors.Is(err, store.ErrDocumentNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrDuplicateContext7ID),
		errors.Is(err, store.ErrLibraryInUse):
		return CodeConflict, err.Error()
	case errors.Is(err, store.ErrInvalidLibrary),
		errors.Is(err, query.ErrInvalidRequest),
		errors.Is(err, ingest.ErrInvalidRequest),
		errors.Is(err, ingest.ErrInvalidContent),
		errors.Is(err, ingest.ErrEmptyContent),
		errors.Is(err, ingest.ErrContentTooLarge),
		errors.Is(err, ingest.ErrFetchFailed):
		return CodeInvalidParams, err.Error()
	case errors.Is(err, ingest.ErrUpstreamUnavailable),
		errors.Is(err, ingest.ErrUpstreamDisabled),
		errors.Is(err, ingest.ErrBusy),
		errors.Is(err, context.DeadlineExceeded):
		return CodeUnavailable, err.Error()
	default:
		return CodeStoreError, "internal error"
	}
}

// writeServiceError renders a service-layer failure; internal errors
// are logged in full and surfaced with a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, id any, err error) {
	code, message := errorCode(err)
	if code == CodeStoreError {
		h.logger.Error("mcp internal error", zap.Error(err))
	}
	h.writeError(w, r, id, code, message, nil)
}
