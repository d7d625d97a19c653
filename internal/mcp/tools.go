package mcp

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/store"
)

func (s *Server) registerTools() {
	// query_spans — filtered query over recorded spans.
	s.mcpServer.AddTool(
		mcplib.NewTool("query_spans",
			mcplib.WithDescription(`Query recorded inference spans with structured filters.

All filters are optional and AND-combined; with none set you get every
recorded span. Results are ordered newest first.

FILTER EXAMPLES:
- All failed calls: status="failed"
- Calls to one model: model="llama3"
- Generate calls in a window: name_contains="generate", since/until as RFC3339`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("model",
				mcplib.Description("Exact model name the call was made with (e.g. llama3)"),
			),
			mcplib.WithString("status",
				mcplib.Description("Lifecycle state: running, completed, or failed"),
			),
			mcplib.WithString("since",
				mcplib.Description("Only spans started at or after this RFC3339 timestamp"),
			),
			mcplib.WithString("until",
				mcplib.Description("Only spans started at or before this RFC3339 timestamp"),
			),
			mcplib.WithString("name_contains",
				mcplib.Description("Substring match against the span name (e.g. generate, chat)"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleQuerySpans,
	)

	// get_span — one span by id.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_span",
			mcplib.WithDescription("Fetch one recorded span by its id, including status, timing, and token counts."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("span_id",
				mcplib.Description("Span UUID"),
				mcplib.Required(),
			),
		),
		s.handleGetSpan,
	)

	// get_trace — all spans of one trace.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_trace",
			mcplib.WithDescription("Fetch all spans of a trace in insertion order."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace UUID"),
				mcplib.Required(),
			),
		),
		s.handleGetTrace,
	)

	// trace_stats — aggregate view over the whole store.
	s.mcpServer.AddTool(
		mcplib.NewTool("trace_stats",
			mcplib.WithDescription("Aggregate statistics over all recorded spans: counts by status, token totals, and per-model call counts."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleTraceStats,
	)
}

func (s *Server) handleQuerySpans(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var f store.Filter

	if v := request.GetString("model", ""); v != "" {
		f.Model = &v
	}
	if v := request.GetString("status", ""); v != "" {
		kind := model.StatusKind(v)
		switch kind {
		case model.StatusRunning, model.StatusCompleted, model.StatusFailed:
			f.Status = &kind
		default:
			return errorResult("status must be one of running, completed, failed"), nil
		}
	}
	if v := request.GetString("since", ""); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return errorResult("since must be an RFC3339 timestamp"), nil
		}
		f.Since = &ts
	}
	if v := request.GetString("until", ""); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return errorResult("until must be an RFC3339 timestamp"), nil
		}
		f.Until = &ts
	}
	if v := request.GetString("name_contains", ""); v != "" {
		f.NameContains = &v
	}
	limit := request.GetInt("limit", 50)

	spans := s.store.FilterSpans(f)
	sortSpansNewestFirst(spans)

	total := len(spans)
	if limit > 0 && len(spans) > limit {
		spans = spans[:limit]
	}
	if spans == nil {
		spans = []model.Span{}
	}

	return textResult(map[string]any{
		"spans": spans,
		"total": total,
	}), nil
}

func (s *Server) handleGetSpan(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("span_id", "")
	if raw == "" {
		return errorResult("span_id is required"), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return errorResult("span_id must be a UUID"), nil
	}

	sp, ok := s.store.Get(id)
	if !ok {
		return errorResult("span not found: " + raw), nil
	}
	return textResult(sp), nil
}

func (s *Server) handleGetTrace(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("trace_id", "")
	if raw == "" {
		return errorResult("trace_id is required"), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return errorResult("trace_id must be a UUID"), nil
	}

	spans := s.store.TraceSpans(id)
	if len(spans) == 0 {
		return errorResult("trace not found: " + raw), nil
	}
	return textResult(model.TraceResponse{TraceID: id, Spans: spans}), nil
}

func (s *Server) handleTraceStats(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return textResult(s.store.Stats()), nil
}

// sortSpansNewestFirst orders spans by start time, newest first. The
// store's iteration order is unspecified, so every surface that wants
// an order sorts explicitly.
func sortSpansNewestFirst(spans []model.Span) {
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Status.StartedAt().After(spans[j].Status.StartedAt())
	})
}
