package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// HealthResponse is the response for GET /health on the admin API.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Spans   int    `json:"spans"`
	Traces  int    `json:"traces"`
	Uptime  int64  `json:"uptime_seconds"`
}

// SpanListResponse is the response for GET /v1/spans.
type SpanListResponse struct {
	Spans []Span `json:"spans"`
	Total int    `json:"total"`
}

// TraceResponse is the response for GET /v1/traces/{trace_id}; spans
// appear in insertion order.
type TraceResponse struct {
	TraceID uuid.UUID `json:"trace_id"`
	Spans   []Span    `json:"spans"`
}

// TraceListResponse is the response for GET /v1/traces.
type TraceListResponse struct {
	Traces []TraceSummary `json:"traces"`
	Total  int            `json:"total"`
}

// TraceSummary is one entry in the GET /v1/traces listing.
type TraceSummary struct {
	TraceID   uuid.UUID `json:"trace_id"`
	SpanCount int       `json:"span_count"`
}

// DeleteSpanResponse is the response for DELETE /v1/spans/{span_id}.
type DeleteSpanResponse struct {
	Deleted bool `json:"deleted"`
}

// DeleteTraceResponse is the response for DELETE /v1/traces/{trace_id}.
type DeleteTraceResponse struct {
	SpansRemoved int `json:"spans_removed"`
}

// ClearResponse is the response for DELETE /v1/spans.
type ClearResponse struct {
	SpansRemoved  int `json:"spans_removed"`
	TracesRemoved int `json:"traces_removed"`
}
