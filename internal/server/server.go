package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tsuiseki/internal/events"
	"github.com/ashita-ai/tsuiseki/internal/store"
)

// Server is the admin API HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store  *store.Store
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Broker    *events.Broker
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new admin API server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:   cfg.Store,
		Broker:  cfg.Broker,
		Logger:  cfg.Logger,
		Version: cfg.Version,
	})

	mux := http.NewServeMux()

	// Health (no envelope-breaking middleware, same chain as the rest).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Span queries and administration.
	mux.HandleFunc("GET /v1/spans", h.HandleListSpans)
	mux.HandleFunc("DELETE /v1/spans", h.HandleClearSpans)
	mux.HandleFunc("GET /v1/spans/{span_id}", h.HandleGetSpan)
	mux.HandleFunc("DELETE /v1/spans/{span_id}", h.HandleDeleteSpan)

	// Trace queries and administration.
	mux.HandleFunc("GET /v1/traces", h.HandleListTraces)
	mux.HandleFunc("GET /v1/traces/{trace_id}", h.HandleGetTrace)
	mux.HandleFunc("DELETE /v1/traces/{trace_id}", h.HandleDeleteTrace)

	// Aggregates and the live event feed.
	mux.HandleFunc("GET /v1/stats", h.HandleStats)
	mux.HandleFunc("GET /v1/events", h.HandleEvents)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}
