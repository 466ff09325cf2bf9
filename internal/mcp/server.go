// ABOUTME: MCP Streamable HTTP endpoint exposing coven-context tools to coding agents
// ABOUTME: POST carries JSON-RPC messages, DELETE ends a client; methods dispatch through a table

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-context/internal/session"
)

// Config holds configuration for the MCP server.
type Config struct {
	Registry *Registry
	Logger   *slog.Logger
	// Version is reported in serverInfo
	Version string
	// IdleTimeout drops clients that send nothing for this long; zero keeps them forever
	IdleTimeout time.Duration
}

// methodFunc answers one JSON-RPC method for an initialized client
type methodFunc func(ctx context.Context, client *ClientSession, params json.RawMessage) (any, *rpcError)

// Server implements the MCP endpoint for external agents.
type Server struct {
	registry *Registry
	logger   *slog.Logger
	version  string
	clients  *clientTable
	methods  map[string]methodFunc
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		registry: cfg.Registry,
		logger:   logger.With("component", "mcp"),
		version:  version,
		clients:  newClientTable(cfg.IdleTimeout),
	}
	s.methods = map[string]methodFunc{
		"ping":       s.ping,
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	return s, nil
}

// RegisterRoutes mounts the endpoint. Other methods get the mux's 405.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /mcp", s.handlePost)
	mux.HandleFunc("DELETE /mcp", s.handleDelete)
}

// Close drops all clients
func (s *Server) Close() {
	s.clients.reset()
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	if !s.clients.close(id) {
		http.Error(w, "unknown MCP session", http.StatusNotFound)
		return
	}
	s.logger.Info("MCP client closed", "mcp_session", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	req, rpcErr := readRequest(r.Body)
	if rpcErr != nil {
		s.reply(w, errResponse(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}

	if req.Method == "initialize" {
		s.initialize(w, req)
		return
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !versionAccepted(v) {
		http.Error(w, "unsupported Mcp-Protocol-Version", http.StatusBadRequest)
		return
	}
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	client, ok := s.clients.lookup(id)
	if !ok {
		// The client has to initialize again
		http.Error(w, "unknown MCP session", http.StatusNotFound)
		return
	}

	if req.notification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("request without id treated as notification", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	method, ok := s.methods[req.Method]
	if !ok {
		s.reply(w, errResponse(req.ID, codeMethodNotFound, "method not found"))
		return
	}
	s.logger.Debug("MCP request", "method", req.Method, "mcp_session", id)

	result, rerr := method(r.Context(), client, req.Params)
	if rerr != nil {
		s.reply(w, errResponse(req.ID, rerr.Code, rerr.Message))
		return
	}
	s.reply(w, okResponse(req.ID, result))
}

// readRequest decodes one message. The returned request carries the id
// whenever it could be parsed so errors can echo it.
func readRequest(body io.Reader) (rpcRequest, *rpcError) {
	var req rpcRequest
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return req, &rpcError{Code: codeParseError, Message: "failed to read request body"}
	}
	if len(data) > maxBodyBytes {
		return req, &rpcError{Code: codeInvalidRequest, Message: "request body too large"}
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return rpcRequest{}, &rpcError{Code: codeParseError, Message: "invalid JSON"}
	}
	if req.JSONRPC != "2.0" {
		return req, &rpcError{Code: codeInvalidRequest, Message: "invalid JSON-RPC version"}
	}
	return req, nil
}

func (s *Server) initialize(w http.ResponseWriter, req rpcRequest) {
	client := s.clients.open()
	s.logger.Info("MCP client initialized", "mcp_session", client.id, "clients", s.clients.size())

	w.Header().Set("Mcp-Session-Id", client.id)
	s.reply(w, okResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "coven-context", "version": s.version},
	}))
}

func (s *Server) ping(context.Context, *ClientSession, json.RawMessage) (any, *rpcError) {
	return map[string]any{}, nil
}

func (s *Server) listTools(context.Context, *ClientSession, json.RawMessage) (any, *rpcError) {
	tools := s.registry.List()
	out := toolsListing{Tools: make([]toolDescriptor, 0, len(tools))}
	for _, t := range tools {
		out.Tools = append(out.Tools, toolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: json.RawMessage(t.InputSchema),
		})
	}
	return out, nil
}

func (s *Server) callTool(ctx context.Context, client *ClientSession, raw json.RawMessage) (any, *rpcError) {
	var params callParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
		}
	}
	if params.Name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "tool name is required"}
	}

	out, err := s.registry.Call(ctx, client, params.Name, params.Arguments)
	if err == nil {
		var text []byte
		if text, err = json.Marshal(out); err == nil {
			return textResult(string(text), false), nil
		}
	}

	switch {
	case errors.Is(err, ErrToolNotFound):
		return nil, &rpcError{Code: codeInvalidParams, Message: "tool not found"}
	case errors.Is(err, context.Canceled):
		return nil, &rpcError{Code: codeInternal, Message: "request cancelled"}
	case session.IsNotFound(err), session.IsPrecondition(err), session.IsInvalidArgument(err):
		s.logger.Debug("tool rejected call", "tool", params.Name, "error", err)
		return textResult(err.Error(), true), nil
	default:
		s.logger.Error("tool failed", "tool", params.Name, "error", err)
		return textResult("internal error", true), nil
	}
}

func (s *Server) reply(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encoding JSON-RPC response", "error", err)
	}
}
