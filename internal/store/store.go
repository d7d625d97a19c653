// Package store implements the in-memory span repository: a dual-indexed
// collection guarded by a read/write lock, shared process-wide between
// the proxy handlers and the query surfaces.
package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Store owns every live span. Two indexes cover the same collection: a
// primary id -> span map holding the entries, and a secondary
// trace id -> ordered span-id index for trace-scoped lookup. Readers
// (lookups, enumeration, filtered queries) share the lock; mutations
// take it exclusively. The lock is held for a single operation at a
// time, never across network I/O.
type Store struct {
	mu     sync.RWMutex
	spans  map[uuid.UUID]*model.Span
	traces map[uuid.UUID][]uuid.UUID
}

// New creates an empty store.
func New() *Store {
	return &Store{
		spans:  make(map[uuid.UUID]*model.Span),
		traces: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Insert records the span under both indexes and returns its id. The
// store takes ownership of the span; callers must not retain or mutate
// the pointer afterwards. Re-inserting an existing id overwrites the
// primary entry (last write wins).
func (s *Store) Insert(span *model.Span) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans[span.ID] = span
	s.traces[span.TraceID] = append(s.traces[span.TraceID], span.ID)
	return span.ID
}

// Get returns a copy of the span and true, or ok=false when the id is
// unknown. Absence is a normal outcome, never an error.
func (s *Store) Get(id uuid.UUID) (model.Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sp, ok := s.spans[id]
	if !ok {
		return model.Span{}, false
	}
	return sp.Clone(), true
}

// Update runs fn against the live span under the write lock; the
// mutation is visible to every read that starts after Update returns.
// Returns false without calling fn when the id is unknown. fn must not
// retain the span beyond the call.
func (s *Store) Update(id uuid.UUID, fn func(*model.Span)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spans[id]
	if !ok {
		return false
	}
	fn(sp)
	return true
}

// SpansForTrace returns the trace's span ids in insertion order, or nil
// when the trace is unknown.
func (s *Store) SpansForTrace(traceID uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.traces[traceID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

// TraceSpans returns copies of the trace's spans in insertion order, or
// nil when the trace is unknown.
func (s *Store) TraceSpans(traceID uuid.UUID) []model.Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.traces[traceID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]model.Span, 0, len(ids))
	for _, id := range ids {
		if sp, ok := s.spans[id]; ok {
			out = append(out, sp.Clone())
		}
	}
	return out
}

// TraceIDs returns the ids of every trace with at least one live span,
// in unspecified order.
func (s *Store) TraceIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(s.traces))
	for id := range s.traces {
		out = append(out, id)
	}
	return out
}

// Complete transitions the span to Completed. Returns whether the id
// exists; an already-terminal span stays unchanged and still reports
// true.
func (s *Store) Complete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spans[id]
	if !ok {
		return false
	}
	sp.Complete()
	return true
}

// Fail transitions the span to Failed with the given message. Same
// contract as Complete.
func (s *Store) Fail(id uuid.UUID, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spans[id]
	if !ok {
		return false
	}
	sp.Fail(errMsg)
	return true
}

// DeleteSpan removes the span from the primary index and its id from
// the trace's sequence. A trace whose sequence empties is removed from
// the index entirely, not left as an empty entry. Returns whether
// anything was deleted.
func (s *Store) DeleteSpan(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spans[id]
	if !ok {
		return false
	}
	delete(s.spans, id)

	ids := s.traces[sp.TraceID]
	kept := ids[:0]
	for _, sid := range ids {
		if sid != id {
			kept = append(kept, sid)
		}
	}
	if len(kept) == 0 {
		delete(s.traces, sp.TraceID)
	} else {
		s.traces[sp.TraceID] = kept
	}
	return true
}

// DeleteTrace removes every span belonging to the trace and the trace's
// index entry, returning the number of spans removed (0 when the trace
// is unknown).
func (s *Store) DeleteTrace(traceID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.traces[traceID]
	if !ok {
		return 0
	}
	delete(s.traces, traceID)
	for _, id := range ids {
		delete(s.spans, id)
	}
	return len(ids)
}

// Clear empties both indexes unconditionally and returns how many
// spans and traces were dropped.
func (s *Store) Clear() (spans, traces int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spans, traces = len(s.spans), len(s.traces)
	s.spans = make(map[uuid.UUID]*model.Span)
	s.traces = make(map[uuid.UUID][]uuid.UUID)
	return spans, traces
}

// SpanCount returns the number of live spans.
func (s *Store) SpanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

// TraceSummaries returns every live trace with its span count, in
// unspecified order. Computed under one read lock so the counts are
// mutually consistent.
func (s *Store) TraceSummaries() []model.TraceSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TraceSummary, 0, len(s.traces))
	for id, ids := range s.traces {
		out = append(out, model.TraceSummary{TraceID: id, SpanCount: len(ids)})
	}
	return out
}

// TraceCount returns the number of traces with at least one live span.
func (s *Store) TraceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traces)
}

// AllSpans returns copies of every stored span in unspecified order.
func (s *Store) AllSpans() []model.Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Span, 0, len(s.spans))
	for _, sp := range s.spans {
		out = append(out, sp.Clone())
	}
	return out
}

// Stats aggregates the whole store under a single read lock so the
// span, trace, and per-status counts are mutually consistent.
func (s *Store) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spans := make([]model.Span, 0, len(s.spans))
	for _, sp := range s.spans {
		spans = append(spans, sp.Clone())
	}
	return model.ComputeStats(spans, len(s.traces))
}
