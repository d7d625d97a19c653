package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsuiseki/internal/events"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/store"
)

// Handlers holds HTTP handler dependencies. Every span and trace route
// is a direct pass-through to the store; the handlers only parse
// parameters and map results onto the response envelope.
type Handlers struct {
	store     *store.Store
	broker    *events.Broker
	logger    *slog.Logger
	startedAt time.Time
	version   string
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker.
type HandlersDeps struct {
	Store   *store.Store
	Broker  *events.Broker
	Logger  *slog.Logger
	Version string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:     deps.Store,
		broker:    deps.Broker,
		logger:    deps.Logger,
		startedAt: time.Now(),
		version:   deps.Version,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Spans:   h.store.SpanCount(),
		Traces:  h.store.TraceCount(),
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleListSpans handles GET /v1/spans. Query params model, status,
// since, until, and name_contains are AND-combined filter criteria;
// none set returns every span.
func (h *Handlers) HandleListSpans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.Filter

	if v := q.Get("model"); v != "" {
		f.Model = &v
	}
	if v := q.Get("status"); v != "" {
		kind := model.StatusKind(v)
		switch kind {
		case model.StatusRunning, model.StatusCompleted, model.StatusFailed:
			f.Status = &kind
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"status must be one of running, completed, failed")
			return
		}
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "since must be an RFC3339 timestamp")
			return
		}
		f.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "until must be an RFC3339 timestamp")
			return
		}
		f.Until = &ts
	}
	if v := q.Get("name_contains"); v != "" {
		f.NameContains = &v
	}

	spans := h.store.FilterSpans(f)
	if spans == nil {
		spans = []model.Span{}
	}
	writeJSON(w, r, http.StatusOK, model.SpanListResponse{Spans: spans, Total: len(spans)})
}

// HandleGetSpan handles GET /v1/spans/{span_id}.
func (h *Handlers) HandleGetSpan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "span_id")
	if !ok {
		return
	}
	sp, found := h.store.Get(id)
	if !found {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "span not found")
		return
	}
	writeJSON(w, r, http.StatusOK, sp)
}

// HandleDeleteSpan handles DELETE /v1/spans/{span_id}.
func (h *Handlers) HandleDeleteSpan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "span_id")
	if !ok {
		return
	}
	if !h.store.DeleteSpan(id) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "span not found")
		return
	}
	h.publish(events.SpanDeleted, map[string]any{"span_id": id})
	writeJSON(w, r, http.StatusOK, model.DeleteSpanResponse{Deleted: true})
}

// HandleClearSpans handles DELETE /v1/spans.
func (h *Handlers) HandleClearSpans(w http.ResponseWriter, r *http.Request) {
	spans, traces := h.store.Clear()
	h.logger.Info("store cleared", "spans_removed", spans, "traces_removed", traces)
	h.publish(events.StoreCleared, map[string]any{
		"spans_removed":  spans,
		"traces_removed": traces,
	})
	writeJSON(w, r, http.StatusOK, model.ClearResponse{SpansRemoved: spans, TracesRemoved: traces})
}

// HandleListTraces handles GET /v1/traces.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	traces := h.store.TraceSummaries()
	if traces == nil {
		traces = []model.TraceSummary{}
	}
	writeJSON(w, r, http.StatusOK, model.TraceListResponse{Traces: traces, Total: len(traces)})
}

// HandleGetTrace handles GET /v1/traces/{trace_id}. Spans come back in
// insertion order.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "trace_id")
	if !ok {
		return
	}
	spans := h.store.TraceSpans(id)
	if len(spans) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
		return
	}
	writeJSON(w, r, http.StatusOK, model.TraceResponse{TraceID: id, Spans: spans})
}

// HandleDeleteTrace handles DELETE /v1/traces/{trace_id}. Deleting an
// unknown trace is not an error: the response reports zero removals.
func (h *Handlers) HandleDeleteTrace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "trace_id")
	if !ok {
		return
	}
	n := h.store.DeleteTrace(id)
	if n > 0 {
		h.publish(events.TraceDeleted, map[string]any{"trace_id": id, "spans_removed": n})
	}
	writeJSON(w, r, http.StatusOK, model.DeleteTraceResponse{SpansRemoved: n})
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.store.Stats())
}

// HandleEvents handles GET /v1/events (SSE).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event feed not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event := <-ch:
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handlers) publish(event string, payload any) {
	if h.broker != nil {
		h.broker.Publish(event, payload)
	}
}

// parseID parses the named path value as a UUID, writing a 400 and
// returning ok=false when it is malformed.
func parseID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.UUID{}, false
	}
	return id, true
}
