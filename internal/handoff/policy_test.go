package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ambrosia-alliance/processor/internal/model"
)

var criteria = model.HandoffCriteria{MinSamples: 50, AccuracyThreshold: 0.90}

type stubMetrics struct {
	mu sync.Mutex
	m  map[model.Category]model.CategoryMetrics
}

func (s *stubMetrics) set(c model.Category, total, correct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[model.Category]model.CategoryMetrics{}
	}
	m := model.CategoryMetrics{Category: c, TotalSamples: total, TruePositive: correct, FalsePositive: total - correct}
	m.Recompute()
	s.m[c] = m
}

func (s *stubMetrics) Metrics(_ context.Context, c model.Category) (model.CategoryMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[c], nil
}

func newPolicy() (*Policy, *MemoryState, *stubMetrics) {
	set := model.DefaultCategorySet()
	state := NewMemoryState(set, nil)
	metrics := &stubMetrics{}
	return NewPolicy(state, metrics, set, criteria, ""), state, metrics
}

func TestPolicy_PromotesEligibleCategory(t *testing.T) {
	p, state, metrics := newPolicy()
	ctx := context.Background()
	metrics.set(model.CategoryCost, 50, 46)        // 0.92
	metrics.set(model.CategoryTrialDesign, 50, 42) // 0.84

	evals, err := p.EvaluateAll(ctx)
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if len(evals) != 13 {
		t.Fatalf("got %d evaluations, want 13", len(evals))
	}

	if on, _ := state.ReviewEnabled(ctx, model.CategoryCost); on {
		t.Error("cost at 0.92 over 50 samples should be auto-accepted")
	}
	if on, _ := state.ReviewEnabled(ctx, model.CategoryTrialDesign); !on {
		t.Error("trial_design at 0.84 should still be reviewed")
	}

	ev, _ := p.Evaluate(ctx, model.CategoryTrialDesign)
	if ev.Eligible || ev.Status != model.StatusReviewRequired || ev.SamplesNeeded != 0 {
		t.Errorf("unexpected evaluation %+v", ev)
	}
	if ev.AccuracyGap < 0.059 || ev.AccuracyGap > 0.061 {
		t.Errorf("AccuracyGap = %v, want ~0.06", ev.AccuracyGap)
	}

	events, _ := state.Events(ctx, "", 0)
	if len(events) != 1 || events[0].Actor != "policy" || events[0].Category != model.CategoryCost {
		t.Errorf("events = %+v", events)
	}
}

func TestPolicy_BoundaryIsInclusive(t *testing.T) {
	p, _, metrics := newPolicy()
	metrics.set(model.CategoryCost, 50, 45) // exactly 0.90

	ev, err := p.Evaluate(context.Background(), model.CategoryCost)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Promoted || ev.Status != model.StatusAutoAccept {
		t.Errorf("50 samples at 0.90 should promote, got %+v", ev)
	}

	metrics.set(model.CategoryTrialLength, 49, 49)
	ev, _ = p.Evaluate(context.Background(), model.CategoryTrialLength)
	if ev.Promoted || ev.SamplesNeeded != 1 {
		t.Errorf("49 samples should not promote, got %+v", ev)
	}
}

func TestPolicy_NeverDemotes(t *testing.T) {
	p, state, metrics := newPolicy()
	ctx := context.Background()
	metrics.set(model.CategoryCost, 50, 50)
	if _, err := p.Evaluate(ctx, model.CategoryCost); err != nil {
		t.Fatal(err)
	}

	metrics.set(model.CategoryCost, 200, 10)
	ev, _ := p.Evaluate(ctx, model.CategoryCost)
	if ev.Status != model.StatusAutoAccept || ev.Promoted {
		t.Errorf("policy must not demote, got %+v", ev)
	}
	if on, _ := state.ReviewEnabled(ctx, model.CategoryCost); on {
		t.Error("review re-enabled without operator revert")
	}
}

func TestPolicy_Revert(t *testing.T) {
	p, state, metrics := newPolicy()
	ctx := context.Background()
	metrics.set(model.CategoryCost, 50, 50)
	_, _ = p.Evaluate(ctx, model.CategoryCost)

	if _, err := p.Revert(ctx, model.CategoryCost, "", "drift"); err == nil {
		t.Error("revert without operator should fail")
	}
	if _, err := p.Revert(ctx, "nope", "alice", "drift"); !errors.Is(err, model.ErrUnknownCategory) {
		t.Errorf("Revert(unknown) error = %v", err)
	}

	changed, err := p.Revert(ctx, model.CategoryCost, "alice", "drift")
	if err != nil || !changed {
		t.Fatalf("Revert() = %v, %v", changed, err)
	}
	if on, _ := state.ReviewEnabled(ctx, model.CategoryCost); !on {
		t.Error("revert should re-enable review")
	}

	events, _ := state.Events(ctx, model.CategoryCost, 1)
	if len(events) != 1 || events[0].Actor != "alice" || !events[0].To {
		t.Errorf("latest event = %+v", events)
	}
	if events[0].Mark != (model.MetricsMark{Samples: 50, Correct: 50}) {
		t.Errorf("revert mark = %+v", events[0].Mark)
	}

	// Cumulative metrics still qualify, but the revert holds until new evidence arrives.
	metrics.set(model.CategoryCost, 51, 51)
	ev, err := p.Evaluate(ctx, model.CategoryCost)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Promoted || ev.Eligible || !ev.SinceRevert || ev.SamplesNeeded != 49 {
		t.Errorf("evaluation right after revert = %+v", ev)
	}
	if on, _ := state.ReviewEnabled(ctx, model.CategoryCost); !on {
		t.Fatal("operator revert undone by the next evaluation")
	}

	// 50 new samples below the threshold: 44/50 = 0.88.
	metrics.set(model.CategoryCost, 100, 94)
	if ev, _ = p.Evaluate(ctx, model.CategoryCost); ev.Promoted || ev.AccuracyGap < 0.019 {
		t.Errorf("inaccurate post-revert samples should not promote, got %+v", ev)
	}

	// 50 new samples at 0.92 promote again.
	metrics.set(model.CategoryCost, 100, 96)
	ev, _ = p.Evaluate(ctx, model.CategoryCost)
	if !ev.Promoted || ev.Status != model.StatusAutoAccept {
		t.Errorf("fresh evidence should promote, got %+v", ev)
	}
}

func TestPolicy_CheckDoesNotPromote(t *testing.T) {
	p, state, metrics := newPolicy()
	ctx := context.Background()
	metrics.set(model.CategoryCost, 50, 50)

	ev, err := p.Check(ctx, model.CategoryCost)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Eligible || ev.Promoted || ev.Status != model.StatusReviewRequired {
		t.Errorf("Check() = %+v", ev)
	}
	if on, _ := state.ReviewEnabled(ctx, model.CategoryCost); !on {
		t.Error("Check must not change state")
	}
}

func TestPolicyMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("auto-accept is never undone by the policy", prop.ForAll(
		func(totals []int, accuracies []int) bool {
			p, state, metrics := newPolicy()
			ctx := context.Background()
			promoted := false
			for i := 0; i < len(totals) && i < len(accuracies); i++ {
				correct := totals[i] * accuracies[i] / 100
				metrics.set(model.CategoryCost, totals[i], correct)
				if _, err := p.Evaluate(ctx, model.CategoryCost); err != nil {
					return false
				}
				on, _ := state.ReviewEnabled(ctx, model.CategoryCost)
				if promoted && on {
					return false
				}
				promoted = promoted || !on
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 120)),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
