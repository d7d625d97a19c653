// Package proxy implements the instrumented Ollama proxy. Each inbound
// generate or chat call is wrapped in a span: created before the
// upstream request goes out (so in-flight work is observable), then
// completed with token counts or failed with the upstream error.
//
// Upstream detail never reaches the inbound caller: all three failure
// kinds (transport, non-2xx status, unparseable body) surface as a bare
// 502 while the full message lands in the span and the log.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tsuiseki/internal/events"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/store"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

// Handlers holds the proxy handler dependencies.
type Handlers struct {
	store  *store.Store
	client *Client
	broker *events.Broker
	logger *slog.Logger
}

// NewHandlers creates the proxy handlers.
func NewHandlers(st *store.Store, client *Client, broker *events.Broker, logger *slog.Logger) *Handlers {
	return &Handlers{store: st, client: client, broker: broker, logger: logger}
}

// HandleGenerate handles POST /api/generate.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	// Force non-streaming regardless of what the caller asked for; the
	// response path accumulates a single JSON body.
	stream := false
	req.Stream = &stream

	body, err := json.Marshal(req)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	spanID := h.beginSpan(r.Context(), "generate", req.Model)

	// No store lock is held here: a slow model never blocks readers.
	status, respBody, err := h.client.Post(r.Context(), "/api/generate", body)
	if err != nil {
		h.failSpan(r.Context(), spanID, "generate", req.Model, "Request failed: "+err.Error())
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if status < 200 || status >= 300 {
		h.failSpan(r.Context(), spanID, "generate", req.Model,
			fmt.Sprintf("Ollama error %d: %s", status, respBody))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		h.failSpan(r.Context(), spanID, "generate", req.Model, "Failed to parse response: "+err.Error())
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	h.completeSpan(spanID, "generate", genResp.PromptEvalCount, genResp.EvalCount)
	writeBody(w, genResp)
}

// HandleChat handles POST /api/chat.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	stream := false
	req.Stream = &stream

	body, err := json.Marshal(req)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	spanID := h.beginSpan(r.Context(), "chat", req.Model)

	status, respBody, err := h.client.Post(r.Context(), "/api/chat", body)
	if err != nil {
		h.failSpan(r.Context(), spanID, "chat", req.Model, "Request failed: "+err.Error())
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if status < 200 || status >= 300 {
		h.failSpan(r.Context(), spanID, "chat", req.Model,
			fmt.Sprintf("Ollama error %d: %s", status, respBody))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		h.failSpan(r.Context(), spanID, "chat", req.Model, "Failed to parse response: "+err.Error())
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	h.completeSpan(spanID, "chat", chatResp.PromptEvalCount, chatResp.EvalCount)
	writeBody(w, chatResp)
}

// HandleHealth handles GET /health on the proxy listener.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// beginSpan creates the span for one proxied call (fresh trace, no
// parent), records it in the store, and announces it. The span is
// visible to concurrent readers as Running before the upstream call
// is issued.
func (h *Handlers) beginSpan(ctx context.Context, op, modelName string) uuid.UUID {
	traceID := uuid.New()
	sp := model.NewSpan(traceID, nil, "ollama-"+op)
	sp.Metadata.Model = &modelName

	snapshot := sp.Clone()
	spanID := h.store.Insert(sp)
	h.broker.Publish(events.SpanCreated, snapshot)

	h.logger.Info("proxying "+op+" request",
		"trace_id", traceID, "span_id", spanID, "model", modelName)

	if counter, err := proxyMeter.Int64Counter("tsuiseki.proxy.requests"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("model", modelName),
		))
	}
	return spanID
}

// completeSpan records token counts and the terminal transition in one
// store operation, so no reader observes the counts without the status.
func (h *Handlers) completeSpan(spanID uuid.UUID, op string, inputTokens, outputTokens *uint64) {
	h.store.Update(spanID, func(sp *model.Span) {
		sp.Metadata.InputTokens = inputTokens
		sp.Metadata.OutputTokens = outputTokens
		sp.Complete()
	})
	if sp, ok := h.store.Get(spanID); ok {
		h.broker.Publish(events.SpanCompleted, sp)
	}
	h.logger.Info(op+" completed", "span_id", spanID)
}

func (h *Handlers) failSpan(ctx context.Context, spanID uuid.UUID, op, modelName, errMsg string) {
	h.store.Fail(spanID, errMsg)
	if sp, ok := h.store.Get(spanID); ok {
		h.broker.Publish(events.SpanFailed, sp)
	}
	h.logger.Warn("span failed", "span_id", spanID, "error", errMsg)

	if counter, err := proxyMeter.Int64Counter("tsuiseki.proxy.failures"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("model", modelName),
		))
	}
}

func writeBody(w http.ResponseWriter, resp any) {
	out, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

var proxyMeter = telemetry.Meter("tsuiseki/proxy")

// Server is the proxy HTTP server (the Ollama-facing listener).
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds dependencies and settings for the proxy server.
type ServerConfig struct {
	Store  *store.Store
	Client *Client
	Broker *events.Broker
	Logger *slog.Logger

	Addr        string
	ReadTimeout time.Duration
	// WriteTimeout must exceed the Ollama timeout or long generations
	// get cut off mid-response.
	WriteTimeout time.Duration
}

// NewServer creates the proxy server. Paths mirror the upstream Ollama
// API so clients can point at the proxy as a drop-in base URL.
func NewServer(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Store, cfg.Client, cfg.Broker, cfg.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", h.HandleGenerate)
	mux.HandleFunc("POST /api/chat", h.HandleChat)
	mux.HandleFunc("GET /health", h.HandleHealth)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: mux,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving proxy requests.
func (s *Server) Start() error {
	s.logger.Info("proxy server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the proxy server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("proxy server shutting down")
	return s.httpServer.Shutdown(ctx)
}
