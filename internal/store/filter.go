package store

import (
	"strings"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Filter selects spans by the logical AND of its set criteria. Unset
// fields are not applied, so the zero Filter matches every span.
type Filter struct {
	// Model matches metadata.model exactly. Spans with no recorded
	// model never match a set Model filter.
	Model *string

	// Status matches the lifecycle state name.
	Status *model.StatusKind

	// Since and Until are inclusive bounds on started_at. The end time
	// of a terminal span does not participate.
	Since *time.Time
	Until *time.Time

	// NameContains is a substring match against the span name.
	NameContains *string
}

func (f Filter) matches(sp *model.Span) bool {
	if f.Model != nil {
		if sp.Metadata.Model == nil || *sp.Metadata.Model != *f.Model {
			return false
		}
	}
	if f.Status != nil && sp.Status.Kind() != *f.Status {
		return false
	}
	startedAt := sp.Status.StartedAt()
	if f.Since != nil && startedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && startedAt.After(*f.Until) {
		return false
	}
	if f.NameContains != nil && !strings.Contains(sp.Name, *f.NameContains) {
		return false
	}
	return true
}

// FilterSpans returns copies of every span matching all set criteria.
// The scan covers the full primary index; result order is unspecified
// and callers that need an order must sort.
func (s *Store) FilterSpans(f Filter) []model.Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Span
	for _, sp := range s.spans {
		if f.matches(sp) {
			out = append(out, sp.Clone())
		}
	}
	return out
}
