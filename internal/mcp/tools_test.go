package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st := store.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(st, logger, "test"), st
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// toolText extracts the first TextContent text from a CallToolResult.
func toolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("result has no text content")
	return ""
}

func seedSpan(st *store.Store, name, modelName string) uuid.UUID {
	sp := model.NewSpan(uuid.New(), nil, name)
	if modelName != "" {
		sp.Metadata.Model = &modelName
	}
	return st.Insert(sp)
}

func TestQuerySpansByModel(t *testing.T) {
	s, st := testServer(t)
	seedSpan(st, "ollama-generate", "a")
	seedSpan(st, "ollama-chat", "b")
	seedSpan(st, "ollama-generate", "a")

	result, err := s.handleQuerySpans(context.Background(), toolRequest("query_spans", map[string]any{
		"model": "a",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "query should succeed: %s", toolText(t, result))

	var resp struct {
		Spans []model.Span `json:"spans"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Total)
	for _, sp := range resp.Spans {
		assert.Equal(t, "a", *sp.Metadata.Model)
	}
}

func TestQuerySpansStatusAndLimit(t *testing.T) {
	s, st := testServer(t)
	for range 5 {
		id := seedSpan(st, "ollama-generate", "a")
		st.Complete(id)
	}
	seedSpan(st, "ollama-generate", "a")

	result, err := s.handleQuerySpans(context.Background(), toolRequest("query_spans", map[string]any{
		"status": "completed",
		"limit":  3,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Spans []model.Span `json:"spans"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &resp))
	assert.Equal(t, 5, resp.Total, "total reports all matches")
	assert.Len(t, resp.Spans, 3, "spans are capped at limit")
}

func TestQuerySpansRejectsBadStatus(t *testing.T) {
	s, _ := testServer(t)

	result, err := s.handleQuerySpans(context.Background(), toolRequest("query_spans", map[string]any{
		"status": "done",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "status must be one of")
}

func TestQuerySpansRejectsBadTimestamp(t *testing.T) {
	s, _ := testServer(t)

	result, err := s.handleQuerySpans(context.Background(), toolRequest("query_spans", map[string]any{
		"since": "yesterday",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "RFC3339")
}

func TestGetSpan(t *testing.T) {
	s, st := testServer(t)
	id := seedSpan(st, "ollama-generate", "llama3")

	result, err := s.handleGetSpan(context.Background(), toolRequest("get_span", map[string]any{
		"span_id": id.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var sp model.Span
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &sp))
	assert.Equal(t, id, sp.ID)

	// Lookup miss and malformed id are tool errors, not protocol failures.
	result, err = s.handleGetSpan(context.Background(), toolRequest("get_span", map[string]any{
		"span_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleGetSpan(context.Background(), toolRequest("get_span", map[string]any{
		"span_id": "nope",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "UUID")
}

func TestGetTrace(t *testing.T) {
	s, st := testServer(t)
	traceID := uuid.New()
	sp1 := model.NewSpan(traceID, nil, "first")
	sp2 := model.NewSpan(traceID, nil, "second")
	st.Insert(sp1)
	st.Insert(sp2)

	result, err := s.handleGetTrace(context.Background(), toolRequest("get_trace", map[string]any{
		"trace_id": traceID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp model.TraceResponse
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &resp))
	assert.Equal(t, traceID, resp.TraceID)
	require.Len(t, resp.Spans, 2)
	assert.Equal(t, "first", resp.Spans[0].Name)

	result, err = s.handleGetTrace(context.Background(), toolRequest("get_trace", map[string]any{
		"trace_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTraceStats(t *testing.T) {
	s, st := testServer(t)
	id := seedSpan(st, "ollama-generate", "llama3")
	st.Update(id, func(sp *model.Span) {
		in, out := uint64(10), uint64(5)
		sp.Metadata.InputTokens = &in
		sp.Metadata.OutputTokens = &out
		sp.Complete()
	})
	seedSpan(st, "ollama-chat", "llama3")

	result, err := s.handleTraceStats(context.Background(), toolRequest("trace_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var stats model.Stats
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &stats))
	assert.Equal(t, 2, stats.Spans)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, uint64(10), stats.InputTokens)
	assert.Equal(t, 2, stats.Models["llama3"])
}

func TestRecentSpansResource(t *testing.T) {
	s, st := testServer(t)
	seedSpan(st, "ollama-generate", "llama3")
	seedSpan(st, "ollama-chat", "llama3")

	contents, err := s.handleRecentSpans(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "tsuiseki://spans/recent"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "tsuiseki://spans/recent", text.URI)

	var spans []model.Span
	require.NoError(t, json.Unmarshal([]byte(text.Text), &spans))
	assert.Len(t, spans, 2)
}
