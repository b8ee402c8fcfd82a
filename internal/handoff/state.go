// Package handoff owns the per-category human_review_enabled flag and the policy that
// promotes categories to auto-accept once their accuracy record is good enough.
package handoff

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// State stores the review flag of every category and the audit trail of its transitions.
// Promote flips a flag true -> false and Revert flips it false -> true; both report
// whether anything changed and append an event, carrying mark, only when it did.
type State interface {
	ReviewEnabled(ctx context.Context, category model.Category) (bool, error)
	Snapshot(ctx context.Context) (map[model.Category]bool, error)
	Promote(ctx context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error)
	Revert(ctx context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error)
	Events(ctx context.Context, category model.Category, limit int) ([]model.HandoffEvent, error)
}

// MemoryState is an in-process State
type MemoryState struct {
	mu         sync.RWMutex
	categories *model.CategorySet
	enabled    map[model.Category]bool
	events     []model.HandoffEvent
	now        func() time.Time
}

// NewMemoryState creates a state seeded from initial flags; categories missing from
// initial start with review enabled.
func NewMemoryState(categories *model.CategorySet, initial map[model.Category]bool) *MemoryState {
	enabled := make(map[model.Category]bool, categories.Len())
	for _, c := range categories.All() {
		v, ok := initial[c]
		enabled[c] = !ok || v
	}
	return &MemoryState{
		categories: categories,
		enabled:    enabled,
		now:        time.Now,
	}
}

func (s *MemoryState) ReviewEnabled(_ context.Context, category model.Category) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.enabled[category]
	if !ok {
		return true, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	return v, nil
}

func (s *MemoryState) Snapshot(context.Context) (map[model.Category]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Category]bool, len(s.enabled))
	for c, v := range s.enabled {
		out[c] = v
	}
	return out, nil
}

func (s *MemoryState) Promote(_ context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error) {
	return s.transition(category, false, actor, reason, mark)
}

func (s *MemoryState) Revert(_ context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error) {
	return s.transition(category, true, actor, reason, mark)
}

func (s *MemoryState) transition(category model.Category, to bool, actor, reason string, mark model.MetricsMark) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, ok := s.enabled[category]
	if !ok {
		return false, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	if from == to {
		return false, nil
	}
	s.enabled[category] = to
	s.events = append(s.events, model.HandoffEvent{
		Category: category,
		From:     from,
		To:       to,
		Actor:    actor,
		Reason:   reason,
		Mark:     mark,
		At:       s.now().UTC(),
	})
	return true, nil
}

func (s *MemoryState) Events(_ context.Context, category model.Category, limit int) ([]model.HandoffEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterEvents(s.events, category, limit), nil
}

// filterEvents returns matching events newest first, at most limit when limit > 0
func filterEvents(events []model.HandoffEvent, category model.Category, limit int) []model.HandoffEvent {
	out := make([]model.HandoffEvent, 0)
	for i := len(events) - 1; i >= 0; i-- {
		if category != "" && events[i].Category != category {
			continue
		}
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}
