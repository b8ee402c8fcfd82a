// Package accuracy keeps per-category confusion matrices built from human-confirmed samples.
package accuracy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

var (
	// ErrAlreadyCounted is returned when a sample has already contributed to metrics
	ErrAlreadyCounted = fmt.Errorf("%w: sample already counted", model.ErrInvariantViolation)

	// ErrNotReviewed is returned when a sample without human labels is recorded
	ErrNotReviewed = errors.New("accuracy: sample has no human labels")
)

// Fold updates one category's stored metrics in place
type Fold func(m *model.CategoryMetrics) error

// Ledger persists category metrics and the set of counted samples.
// Apply marks the sample counted, then reads, folds and writes each category
// under one write lock that also excludes other processes sharing the ledger.
// It returns ErrAlreadyCounted (and changes nothing) when the sample was counted before,
// and changes nothing when fold fails.
type Ledger interface {
	Load(ctx context.Context, category model.Category) (model.CategoryMetrics, error)
	Apply(ctx context.Context, sampleID string, categories []model.Category, fold Fold) error
	Reset(ctx context.Context) error
}

// Tracker folds reviewed samples into category metrics
type Tracker struct {
	ledger     Ledger
	categories *model.CategorySet
	criteria   model.HandoffCriteria
	now        func() time.Time
	logger     *slog.Logger
}

// NewTracker creates a tracker over a ledger
func NewTracker(ledger Ledger, categories *model.CategorySet, criteria model.HandoffCriteria) *Tracker {
	return &Tracker{
		ledger:     ledger,
		categories: categories,
		criteria:   criteria,
		now:        time.Now,
		logger:     slog.Default().With("component", "accuracy"),
	}
}

// Categories returns the tracked category set
func (t *Tracker) Categories() *model.CategorySet {
	return t.categories
}

// Criteria returns the handoff criteria used for CanAutoAccept
func (t *Tracker) Criteria() model.HandoffCriteria {
	return t.criteria
}

// Record counts one reviewed sample against every category.
// Each category gets exactly one of TP/FP/FN/TN; a zero-label sample is a TN everywhere
// the ensemble accepted nothing. Labels outside the category set fail with model.ErrUnknownCategory.
func (t *Tracker) Record(ctx context.Context, sample *model.LabeledSample) error {
	if sample.HumanLabels == nil {
		return ErrNotReviewed
	}

	predicted, err := t.categories.Normalize(sample.EnsemblePredictions)
	if err != nil {
		return fmt.Errorf("sample %s predictions: %w", sample.ID, err)
	}
	human, err := t.categories.Normalize(sample.HumanLabels)
	if err != nil {
		return fmt.Errorf("sample %s labels: %w", sample.ID, err)
	}

	now := t.now().UTC()
	fold := func(m *model.CategoryMetrics) error {
		m.Observe(model.Classify(
			model.ContainsCategory(predicted, m.Category),
			model.ContainsCategory(human, m.Category),
		))
		if !m.Consistent() {
			return fmt.Errorf("%w: counts do not sum for %s", model.ErrInvariantViolation, m.Category)
		}
		m.CanAutoAccept = t.criteria.Eligible(*m)
		m.LastUpdated = now
		return nil
	}

	if err := t.ledger.Apply(ctx, sample.ID, t.categories.All(), fold); err != nil {
		if errors.Is(err, ErrAlreadyCounted) {
			t.logger.ErrorContext(ctx, "duplicate metrics update rejected", "sample", sample.ID)
		}
		return err
	}

	t.logger.DebugContext(ctx, "sample counted", "sample", sample.ID, "labels", len(sample.HumanLabels))
	return nil
}

// Metrics returns current metrics for one category
func (t *Tracker) Metrics(ctx context.Context, category model.Category) (model.CategoryMetrics, error) {
	if !t.categories.Contains(category) {
		return model.CategoryMetrics{}, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	m, err := t.ledger.Load(ctx, category)
	if err != nil {
		return m, err
	}
	m.Category = category
	return m, nil
}

// All returns metrics for every category in canonical order
func (t *Tracker) All(ctx context.Context) ([]model.CategoryMetrics, error) {
	out := make([]model.CategoryMetrics, 0, t.categories.Len())
	for _, c := range t.categories.All() {
		m, err := t.Metrics(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Rebuild resets all metrics and replays the given reviewed samples.
// Handoff state is not touched.
func (t *Tracker) Rebuild(ctx context.Context, samples []*model.LabeledSample) (int, error) {
	if err := t.ledger.Reset(ctx); err != nil {
		return 0, fmt.Errorf("reset metrics: %w", err)
	}
	n := 0
	for _, s := range samples {
		if s.HumanLabels == nil {
			continue
		}
		if err := t.Record(ctx, s); err != nil {
			return n, fmt.Errorf("replay %s: %w", s.ID, err)
		}
		n++
	}
	t.logger.InfoContext(ctx, "metrics rebuilt", "samples", n)
	return n, nil
}
