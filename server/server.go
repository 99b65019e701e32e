// server/server.go
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/sammcj/toolbridge/bridge"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/types"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "server")

// HeaderCallID carries the correlation id of a tool call
const HeaderCallID = "X-Call-Id"

// maxBodySize bounds the argument payload of a tool call
const maxBodySize = 1 << 20

// QueryProcessor answers a natural-language query
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string) (*bridge.Result, error)
}

// Server exposes a tool registry over HTTP
type Server struct {
	registry *provider.Registry
	bridge   QueryProcessor
	srv      *http.Server
}

// MessageRequest represents an incoming chat request
type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse represents the response to a chat request
type MessageResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// ErrorBody is the error payload of a failed tool call
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Option configures a Server
type Option func(*Server)

// WithBridge enables the /api/chat endpoint
func WithBridge(b QueryProcessor) Option {
	return func(s *Server) {
		s.bridge = b
	}
}

// New creates a server listening on addr
func New(addr string, registry *provider.Registry, opts ...Option) *Server {
	s := &Server{registry: registry}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /tools/{name}", s.handleCallTool)
	// path used by the first demo client
	mux.HandleFunc("POST /shwa/mcp/{name}", s.handleCallTool)
	if s.bridge != nil {
		mux.HandleFunc("POST /api/chat", s.handleChat)
	}
	return mux
}

// HTTPServer returns the underlying http.Server
func (s *Server) HTTPServer() *http.Server {
	return s.srv
}

// Start serves until the server is shut down
func (s *Server) Start() error {
	logger.KV(xlog.INFO, "status", "starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server error")
	}
	return nil
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the toolbridge tool provider",
	})
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorBody{Code: types.CodeExecutionFailed, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	callID := r.Header.Get(HeaderCallID)
	if callID == "" {
		callID = uuid.NewString()
	}
	w.Header().Set(HeaderCallID, callID)

	req := types.ToolCallRequest{ID: callID, Name: name}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		req.ParseError = errors.Wrap(err, "read body")
	} else {
		req = types.NewToolCallRequest(callID, name, string(raw))
	}

	res, err := s.registry.CallTool(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), ErrorBody{Code: types.ErrorCode(err), Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": res.Content})
}

// statusOf maps a tool error to its HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidArguments):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleChat answers a query through the orchestrator
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp := MessageResponse{}
	res, err := s.bridge.ProcessQuery(r.Context(), req.Message)
	if err != nil {
		logger.ContextKV(r.Context(), xlog.ERROR, "reason", "process_query", "err", err.Error())
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	resp.Response = res.Answer
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, status int, body ErrorBody) {
	logger.KV(xlog.DEBUG, "status", status, "code", body.Code, "message", body.Message)
	writeJSON(w, status, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.KV(xlog.ERROR, "reason", "encode_response", "err", err.Error())
	}
}
