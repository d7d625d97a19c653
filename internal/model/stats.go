package model

// Stats is an aggregate view over a set of spans, served by GET /v1/stats
// and the trace_stats MCP tool.
type Stats struct {
	Spans        int            `json:"spans"`
	Traces       int            `json:"traces"`
	Running      int            `json:"running"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	InputTokens  uint64         `json:"input_tokens"`
	OutputTokens uint64         `json:"output_tokens"`
	Models       map[string]int `json:"models"`
}

// ComputeStats aggregates status counts, token totals, and per-model span
// counts over the given spans. traceCount is supplied by the caller from
// the store's trace index rather than re-derived by grouping.
func ComputeStats(spans []Span, traceCount int) Stats {
	st := Stats{
		Spans:  len(spans),
		Traces: traceCount,
		Models: make(map[string]int),
	}
	for i := range spans {
		switch spans[i].Status.Kind() {
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
		md := spans[i].Metadata
		if md.InputTokens != nil {
			st.InputTokens += *md.InputTokens
		}
		if md.OutputTokens != nil {
			st.OutputTokens += *md.OutputTokens
		}
		if md.Model != nil {
			st.Models[*md.Model]++
		}
	}
	return st
}
