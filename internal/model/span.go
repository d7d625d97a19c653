// Package model defines the core domain types for Tsuiseki.
//
// A Span is one observed unit of work (one proxied inference call); a
// trace is the set of spans sharing a trace ID. Types use strong typing
// (UUIDs, time.Time, a closed status type) and avoid interface{}
// wherever possible.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusKind names a span lifecycle state.
type StatusKind string

const (
	StatusRunning   StatusKind = "running"
	StatusCompleted StatusKind = "completed"
	StatusFailed    StatusKind = "failed"
)

// SpanStatus is the lifecycle state of a span: Running, Completed, or
// Failed, each carrying its own timestamps. The fields are unexported so
// a Completed status without an end time cannot be constructed; states
// change only through Span.Complete and Span.Fail.
type SpanStatus struct {
	kind      StatusKind
	startedAt time.Time
	endedAt   time.Time // terminal states only
	errMsg    string    // failed only
}

// NewRunningStatus returns a Running status started at the given time.
func NewRunningStatus(startedAt time.Time) SpanStatus {
	return SpanStatus{kind: StatusRunning, startedAt: startedAt}
}

// Kind returns the active lifecycle state name.
func (s SpanStatus) Kind() StatusKind { return s.kind }

// StartedAt returns the span's start time. It is fixed at creation and
// identical across all subsequent states.
func (s SpanStatus) StartedAt() time.Time { return s.startedAt }

// EndedAt returns the end time and whether the status is terminal.
func (s SpanStatus) EndedAt() (time.Time, bool) {
	if s.Terminal() {
		return s.endedAt, true
	}
	return time.Time{}, false
}

// ErrorMessage returns the failure message and whether the status is Failed.
func (s SpanStatus) ErrorMessage() (string, bool) {
	if s.kind == StatusFailed {
		return s.errMsg, true
	}
	return "", false
}

// Terminal reports whether the status is Completed or Failed.
func (s SpanStatus) Terminal() bool {
	return s.kind == StatusCompleted || s.kind == StatusFailed
}

// statusJSON is the wire shape of SpanStatus: a tagged object whose
// "state" discriminates the variant.
type statusJSON struct {
	State     string     `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     *string    `json:"error,omitempty"`
}

// MarshalJSON encodes the status as a tagged object.
func (s SpanStatus) MarshalJSON() ([]byte, error) {
	aux := statusJSON{State: string(s.kind), StartedAt: s.startedAt}
	switch s.kind {
	case StatusRunning:
	case StatusCompleted:
		ended := s.endedAt
		aux.EndedAt = &ended
	case StatusFailed:
		ended := s.endedAt
		msg := s.errMsg
		aux.EndedAt = &ended
		aux.Error = &msg
	default:
		return nil, fmt.Errorf("model: invalid span state %q", s.kind)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes a tagged status object, rejecting unknown states
// and terminal states without an end time.
func (s *SpanStatus) UnmarshalJSON(data []byte) error {
	var aux statusJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("model: decode span status: %w", err)
	}
	switch StatusKind(aux.State) {
	case StatusRunning:
		*s = SpanStatus{kind: StatusRunning, startedAt: aux.StartedAt}
	case StatusCompleted:
		if aux.EndedAt == nil {
			return fmt.Errorf("model: completed status missing ended_at")
		}
		*s = SpanStatus{kind: StatusCompleted, startedAt: aux.StartedAt, endedAt: *aux.EndedAt}
	case StatusFailed:
		if aux.EndedAt == nil {
			return fmt.Errorf("model: failed status missing ended_at")
		}
		var msg string
		if aux.Error != nil {
			msg = *aux.Error
		}
		*s = SpanStatus{kind: StatusFailed, startedAt: aux.StartedAt, endedAt: *aux.EndedAt, errMsg: msg}
	default:
		return fmt.Errorf("model: unknown span state %q", aux.State)
	}
	return nil
}

// SpanMetadata is structured side-data on a span, populated incrementally
// by the handler. All fields are optional.
type SpanMetadata struct {
	Model        *string `json:"model,omitempty"`
	InputTokens  *uint64 `json:"input_tokens,omitempty"`
	OutputTokens *uint64 `json:"output_tokens,omitempty"`
}

func (m SpanMetadata) clone() SpanMetadata {
	c := m
	if m.Model != nil {
		v := *m.Model
		c.Model = &v
	}
	if m.InputTokens != nil {
		v := *m.InputTokens
		c.InputTokens = &v
	}
	if m.OutputTokens != nil {
		v := *m.OutputTokens
		c.OutputTokens = &v
	}
	return c
}

// Span is one observed unit of work. ID, TraceID, ParentSpanID, and Name
// are immutable after creation; Status and Metadata change through the
// lifecycle. ParentSpanID is a back-reference within the same trace,
// never an ownership link.
type Span struct {
	ID           uuid.UUID    `json:"id"`
	TraceID      uuid.UUID    `json:"trace_id"`
	ParentSpanID *uuid.UUID   `json:"parent_span_id"`
	Name         string       `json:"name"`
	Status       SpanStatus   `json:"status"`
	Metadata     SpanMetadata `json:"metadata"`
}

// NewSpan allocates a span with a fresh ID in the Running state.
func NewSpan(traceID uuid.UUID, parentSpanID *uuid.UUID, name string) *Span {
	return &Span{
		ID:           uuid.New(),
		TraceID:      traceID,
		ParentSpanID: parentSpanID,
		Name:         name,
		Status:       NewRunningStatus(time.Now().UTC()),
	}
}

// Complete transitions Running -> Completed. Calling it on a terminal
// span is a no-op; the prior end time and outcome are never overwritten.
func (s *Span) Complete() {
	if s.Status.Terminal() {
		return
	}
	s.Status = SpanStatus{
		kind:      StatusCompleted,
		startedAt: s.Status.startedAt,
		endedAt:   time.Now().UTC(),
	}
}

// Fail transitions Running -> Failed with a human-readable message.
// No-op on a terminal span, same as Complete.
func (s *Span) Fail(errMsg string) {
	if s.Status.Terminal() {
		return
	}
	s.Status = SpanStatus{
		kind:      StatusFailed,
		startedAt: s.Status.startedAt,
		endedAt:   time.Now().UTC(),
		errMsg:    errMsg,
	}
}

// Clone returns a deep copy sharing no pointers with the receiver.
func (s *Span) Clone() Span {
	c := *s
	if s.ParentSpanID != nil {
		id := *s.ParentSpanID
		c.ParentSpanID = &id
	}
	c.Metadata = s.Metadata.clone()
	return c
}
