package handoff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// MetricsReader supplies current category metrics
type MetricsReader interface {
	Metrics(ctx context.Context, category model.Category) (model.CategoryMetrics, error)
}

// Evaluation is the policy outcome for one category
type Evaluation struct {
	Category      model.Category      `json:"category"`
	Status        model.HandoffStatus `json:"status"`
	Eligible      bool                `json:"eligible"`
	Promoted      bool                `json:"promoted"`               // Flag flipped during this evaluation
	SinceRevert   bool                `json:"since_revert,omitempty"` // Eligibility counts only samples after an operator revert
	TotalSamples  int                 `json:"total_samples"`
	Accuracy      float64             `json:"accuracy"`
	SamplesNeeded int                 `json:"samples_needed"`
	AccuracyGap   float64             `json:"accuracy_gap"`
	Message       string              `json:"message"`
}

// TransitionObserver is notified after a category flag actually changes
type TransitionObserver interface {
	HandoffTransition(ctx context.Context, category model.Category, reviewEnabled bool)
}

// Policy promotes categories whose confirmed accuracy meets the handoff criteria.
// It never turns review back on; only Revert does that.
type Policy struct {
	state      State
	metrics    MetricsReader
	categories *model.CategorySet
	criteria   model.HandoffCriteria
	actor      string
	observer   TransitionObserver
	logger     *slog.Logger
}

// NewPolicy creates a policy. actor is recorded on automatic promotions.
func NewPolicy(state State, metrics MetricsReader, categories *model.CategorySet, criteria model.HandoffCriteria, actor string) *Policy {
	if actor == "" {
		actor = "policy"
	}
	return &Policy{
		state:      state,
		metrics:    metrics,
		categories: categories,
		criteria:   criteria,
		actor:      actor,
		logger:     slog.Default().With("component", "handoff"),
	}
}

// SetObserver registers a transition observer
func (p *Policy) SetObserver(o TransitionObserver) {
	p.observer = o
}

// State returns the underlying state store
func (p *Policy) State() State {
	return p.state
}

// Check evaluates one category without changing state.
// After an operator revert only samples confirmed since the revert count toward eligibility.
func (p *Policy) Check(ctx context.Context, category model.Category) (Evaluation, error) {
	ev, _, _, err := p.check(ctx, category)
	return ev, err
}

// check returns the evaluation, cumulative metrics and the evidence eligibility was judged on
func (p *Policy) check(ctx context.Context, category model.Category) (ev Evaluation, m, evidence model.CategoryMetrics, err error) {
	if !p.categories.Contains(category) {
		return ev, m, evidence, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}

	m, err = p.metrics.Metrics(ctx, category)
	if err != nil {
		return ev, m, evidence, fmt.Errorf("metrics %s: %w", category, err)
	}
	enabled, err := p.state.ReviewEnabled(ctx, category)
	if err != nil {
		return ev, m, evidence, fmt.Errorf("handoff state %s: %w", category, err)
	}

	evidence = m
	reverted := false
	if enabled {
		mark, ok, err := p.revertMark(ctx, category)
		if err != nil {
			return ev, m, evidence, err
		}
		if ok {
			evidence, reverted = mark.Since(m), true
		}
	}

	ev = Evaluation{
		Category:      category,
		Status:        model.StatusFor(enabled),
		Eligible:      p.criteria.Eligible(evidence),
		SinceRevert:   reverted,
		TotalSamples:  m.TotalSamples,
		Accuracy:      m.Accuracy,
		SamplesNeeded: p.criteria.SamplesNeeded(evidence),
		AccuracyGap:   p.criteria.AccuracyGap(evidence),
	}
	switch {
	case !enabled:
		ev.Message = "already auto-accepted"
	case !ev.Eligible && reverted:
		ev.Message = fmt.Sprintf("reverted by operator: %d more samples since revert, accuracy gap %.3f", ev.SamplesNeeded, ev.AccuracyGap)
	case !ev.Eligible:
		ev.Message = fmt.Sprintf("not yet eligible: %d more samples, accuracy gap %.3f", ev.SamplesNeeded, ev.AccuracyGap)
	default:
		ev.Message = "eligible for auto-accept"
	}
	return ev, m, evidence, nil
}

// revertMark returns the metrics mark of the latest transition when it was a revert
func (p *Policy) revertMark(ctx context.Context, category model.Category) (model.MetricsMark, bool, error) {
	events, err := p.state.Events(ctx, category, 1)
	if err != nil {
		return model.MetricsMark{}, false, fmt.Errorf("handoff events %s: %w", category, err)
	}
	if len(events) == 0 || !events[0].To {
		return model.MetricsMark{}, false, nil
	}
	return events[0].Mark, true, nil
}

// Evaluate checks one category and promotes it when eligible
func (p *Policy) Evaluate(ctx context.Context, category model.Category) (Evaluation, error) {
	ev, m, evidence, err := p.check(ctx, category)
	if err != nil || ev.Status == model.StatusAutoAccept || !ev.Eligible {
		return ev, err
	}

	reason := fmt.Sprintf("accuracy %.3f over %d samples", m.Accuracy, m.TotalSamples)
	if ev.SinceRevert {
		reason = fmt.Sprintf("accuracy %.3f over %d samples since revert", evidence.Accuracy, evidence.TotalSamples)
	}
	changed, err := p.state.Promote(ctx, category, p.actor, reason, model.MarkOf(m))
	if err != nil {
		return ev, fmt.Errorf("promote %s: %w", category, err)
	}
	ev.Status = model.StatusAutoAccept
	ev.Promoted = changed
	ev.Message = "promoted to auto-accept"
	if changed {
		p.logger.InfoContext(ctx, "category handed off",
			"category", category, "accuracy", m.Accuracy, "samples", m.TotalSamples)
		p.notify(ctx, category, false)
	}
	return ev, nil
}

// EvaluateAll evaluates every category in canonical order
func (p *Policy) EvaluateAll(ctx context.Context) ([]Evaluation, error) {
	out := make([]Evaluation, 0, p.categories.Len())
	for _, c := range p.categories.All() {
		ev, err := p.Evaluate(ctx, c)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Revert re-enables review for a category. This is the only path back from auto-accept.
// The category stays under review until min_samples new confirmations meet the threshold.
func (p *Policy) Revert(ctx context.Context, category model.Category, operator, reason string) (bool, error) {
	if !p.categories.Contains(category) {
		return false, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	if operator == "" {
		return false, fmt.Errorf("handoff: revert requires an operator")
	}
	m, err := p.metrics.Metrics(ctx, category)
	if err != nil {
		return false, fmt.Errorf("metrics %s: %w", category, err)
	}
	changed, err := p.state.Revert(ctx, category, operator, reason, model.MarkOf(m))
	if err != nil {
		return false, err
	}
	if changed {
		p.logger.WarnContext(ctx, "category review re-enabled", "category", category, "operator", operator, "reason", reason)
		p.notify(ctx, category, true)
	}
	return changed, nil
}

func (p *Policy) notify(ctx context.Context, category model.Category, reviewEnabled bool) {
	if p.observer != nil {
		p.observer.HandoffTransition(ctx, category, reviewEnabled)
	}
}
