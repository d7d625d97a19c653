package server_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/events"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/server"
	"github.com/ashita-ai/tsuiseki/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *events.Broker) {
	t.Helper()
	st := store.New()
	broker := events.NewBroker(testLogger())
	srv := server.New(server.ServerConfig{
		Store:   st,
		Broker:  broker,
		Logger:  testLogger(),
		Version: "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st, broker
}

// envelope mirrors the standard response envelope for decoding.
type envelope struct {
	Data  json.RawMessage    `json:"data"`
	Error *model.ErrorDetail `json:"error"`
	Meta  model.ResponseMeta `json:"meta"`
}

func doRequest(t *testing.T, method, url string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func seedSpan(st *store.Store, traceID uuid.UUID, name, modelName string) uuid.UUID {
	sp := model.NewSpan(traceID, nil, name)
	if modelName != "" {
		sp.Metadata.Model = &modelName
	}
	return st.Insert(sp)
}

func TestHealth(t *testing.T) {
	ts, st, _ := newTestServer(t)
	seedSpan(st, uuid.New(), "ollama-generate", "llama3")

	status, env := doRequest(t, http.MethodGet, ts.URL+"/health")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, env.Error)
	assert.NotEmpty(t, env.Meta.RequestID, "envelope must carry a request id")

	var health model.HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 1, health.Spans)
	assert.Equal(t, 1, health.Traces)
}

func TestListSpansFiltered(t *testing.T) {
	ts, st, _ := newTestServer(t)
	seedSpan(st, uuid.New(), "ollama-generate", "a")
	seedSpan(st, uuid.New(), "ollama-chat", "b")
	id3 := seedSpan(st, uuid.New(), "ollama-generate", "a")
	st.Complete(id3)

	status, env := doRequest(t, http.MethodGet, ts.URL+"/v1/spans?model=a")
	require.Equal(t, http.StatusOK, status)
	var list model.SpanListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Total)

	status, env = doRequest(t, http.MethodGet, ts.URL+"/v1/spans?model=a&status=completed")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, id3, list.Spans[0].ID)

	// An all-unset filter returns everything.
	status, env = doRequest(t, http.MethodGet, ts.URL+"/v1/spans")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 3, list.Total)

	// Substring name filter.
	status, env = doRequest(t, http.MethodGet, ts.URL+"/v1/spans?name_contains=chat")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)
}

func TestListSpansTimeBounds(t *testing.T) {
	ts, st, _ := newTestServer(t)
	seedSpan(st, uuid.New(), "ollama-generate", "a")

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	status, env := doRequest(t, http.MethodGet,
		fmt.Sprintf("%s/v1/spans?since=%s&until=%s", ts.URL, past, future))
	require.Equal(t, http.StatusOK, status)
	var list model.SpanListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)

	status, env = doRequest(t, http.MethodGet, ts.URL+"/v1/spans?until="+past)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Zero(t, list.Total)
}

func TestListSpansRejectsBadParams(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := doRequest(t, http.MethodGet, ts.URL+"/v1/spans?status=done")
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodeInvalidInput, env.Error.Code)

	status, env = doRequest(t, http.MethodGet, ts.URL+"/v1/spans?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
}

func TestGetSpan(t *testing.T) {
	ts, st, _ := newTestServer(t)
	id := seedSpan(st, uuid.New(), "ollama-generate", "llama3")

	status, env := doRequest(t, http.MethodGet, ts.URL+"/v1/spans/"+id.String())
	require.Equal(t, http.StatusOK, status)
	var sp model.Span
	require.NoError(t, json.Unmarshal(env.Data, &sp))
	assert.Equal(t, id, sp.ID)
	assert.Equal(t, model.StatusRunning, sp.Status.Kind())

	status, env = doRequest(t, http.MethodGet, ts.URL+"/v1/spans/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodeNotFound, env.Error.Code)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/v1/spans/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeleteSpan(t *testing.T) {
	ts, st, _ := newTestServer(t)
	traceID := uuid.New()
	id1 := seedSpan(st, traceID, "ollama-generate", "")
	id2 := seedSpan(st, traceID, "ollama-chat", "")

	status, env := doRequest(t, http.MethodDelete, ts.URL+"/v1/spans/"+id1.String())
	require.Equal(t, http.StatusOK, status)
	var del model.DeleteSpanResponse
	require.NoError(t, json.Unmarshal(env.Data, &del))
	assert.True(t, del.Deleted)
	assert.Equal(t, []uuid.UUID{id2}, st.SpansForTrace(traceID))

	status, _ = doRequest(t, http.MethodDelete, ts.URL+"/v1/spans/"+id1.String())
	assert.Equal(t, http.StatusNotFound, status, "second delete is a miss")
}

func TestDeleteTraceCountsAndZero(t *testing.T) {
	ts, st, _ := newTestServer(t)
	traceID := uuid.New()
	seedSpan(st, traceID, "a", "")
	seedSpan(st, traceID, "b", "")

	status, env := doRequest(t, http.MethodDelete, ts.URL+"/v1/traces/"+traceID.String())
	require.Equal(t, http.StatusOK, status)
	var del model.DeleteTraceResponse
	require.NoError(t, json.Unmarshal(env.Data, &del))
	assert.Equal(t, 2, del.SpansRemoved)

	// Unknown trace is still 200 with zero removals, not a 404.
	status, env = doRequest(t, http.MethodDelete, ts.URL+"/v1/traces/"+traceID.String())
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &del))
	assert.Zero(t, del.SpansRemoved)
}

func TestGetTraceInsertionOrder(t *testing.T) {
	ts, st, _ := newTestServer(t)
	traceID := uuid.New()
	id1 := seedSpan(st, traceID, "first", "")
	id2 := seedSpan(st, traceID, "second", "")

	status, env := doRequest(t, http.MethodGet, ts.URL+"/v1/traces/"+traceID.String())
	require.Equal(t, http.StatusOK, status)
	var tr model.TraceResponse
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.Equal(t, traceID, tr.TraceID)
	require.Len(t, tr.Spans, 2)
	assert.Equal(t, id1, tr.Spans[0].ID)
	assert.Equal(t, id2, tr.Spans[1].ID)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/v1/traces/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListTraces(t *testing.T) {
	ts, st, _ := newTestServer(t)
	traceID := uuid.New()
	seedSpan(st, traceID, "a", "")
	seedSpan(st, traceID, "b", "")
	seedSpan(st, uuid.New(), "c", "")

	status, env := doRequest(t, http.MethodGet, ts.URL+"/v1/traces")
	require.Equal(t, http.StatusOK, status)
	var list model.TraceListResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Equal(t, 2, list.Total)
	for _, tr := range list.Traces {
		if tr.TraceID == traceID {
			assert.Equal(t, 2, tr.SpanCount)
		}
	}
}

func TestClearSpans(t *testing.T) {
	ts, st, _ := newTestServer(t)
	seedSpan(st, uuid.New(), "a", "")
	seedSpan(st, uuid.New(), "b", "")

	status, env := doRequest(t, http.MethodDelete, ts.URL+"/v1/spans")
	require.Equal(t, http.StatusOK, status)
	var cleared model.ClearResponse
	require.NoError(t, json.Unmarshal(env.Data, &cleared))
	assert.Equal(t, 2, cleared.SpansRemoved)
	assert.Equal(t, 2, cleared.TracesRemoved)
	assert.Zero(t, st.SpanCount())
}

func TestStats(t *testing.T) {
	ts, st, _ := newTestServer(t)
	id1 := seedSpan(st, uuid.New(), "ollama-generate", "llama3")
	st.Update(id1, func(sp *model.Span) {
		in, out := uint64(10), uint64(5)
		sp.Metadata.InputTokens = &in
		sp.Metadata.OutputTokens = &out
		sp.Complete()
	})
	id2 := seedSpan(st, uuid.New(), "ollama-chat", "llama3")
	st.Fail(id2, "boom")
	seedSpan(st, uuid.New(), "ollama-generate", "mistral")

	status, env := doRequest(t, http.MethodGet, ts.URL+"/v1/stats")
	require.Equal(t, http.StatusOK, status)
	var stats model.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 3, stats.Spans)
	assert.Equal(t, 3, stats.Traces)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, uint64(10), stats.InputTokens)
	assert.Equal(t, uint64(5), stats.OutputTokens)
	assert.Equal(t, 2, stats.Models["llama3"])
	assert.Equal(t, 1, stats.Models["mistral"])
}

func TestEventsStream(t *testing.T) {
	ts, _, broker := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription registers after the headers are flushed, so keep
	// publishing until the reader sees an event.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				broker.Publish(events.SpanCreated, map[string]string{"span_id": "s1"})
			}
		}
	}()

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "event: ") {
				lines <- line
				return
			}
		}
	}()

	select {
	case line := <-lines:
		assert.Equal(t, "event: span.created\n", line)
	case <-deadline:
		t.Fatal("timed out waiting for SSE event")
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "my-id")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "my-id", resp2.Header.Get("X-Request-ID"), "caller-supplied request id is echoed")
}
