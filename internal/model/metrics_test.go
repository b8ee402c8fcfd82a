package model

import (
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		predicted, actual bool
		want              Outcome
	}{
		{true, true, OutcomeTruePositive},
		{true, false, OutcomeFalsePositive},
		{false, true, OutcomeFalseNegative},
		{false, false, OutcomeTrueNegative},
	}
	for _, tt := range tests {
		if got := Classify(tt.predicted, tt.actual); got != tt.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tt.predicted, tt.actual, got, tt.want)
		}
	}
}

func TestCategoryMetrics_Observe(t *testing.T) {
	m := CategoryMetrics{Category: CategoryCost}

	for i := 0; i < 6; i++ {
		m.Observe(OutcomeTruePositive)
	}
	m.Observe(OutcomeFalsePositive)
	m.Observe(OutcomeFalseNegative)
	m.Observe(OutcomeFalseNegative)
	m.Observe(OutcomeTrueNegative)

	if m.TotalSamples != 10 {
		t.Fatalf("expected 10 samples, got %d", m.TotalSamples)
	}
	if !m.Consistent() {
		t.Error("counts do not sum to total")
	}
	if math.Abs(m.Precision-6.0/7.0) > 1e-12 {
		t.Errorf("unexpected precision %f", m.Precision)
	}
	if math.Abs(m.Recall-6.0/8.0) > 1e-12 {
		t.Errorf("unexpected recall %f", m.Recall)
	}
	if math.Abs(m.Accuracy-0.7) > 1e-12 {
		t.Errorf("unexpected accuracy %f", m.Accuracy)
	}
	wantF1 := 2 * (6.0 / 7.0) * 0.75 / (6.0/7.0 + 0.75)
	if math.Abs(m.F1-wantF1) > 1e-12 {
		t.Errorf("unexpected f1 %f, want %f", m.F1, wantF1)
	}
}

func TestCategoryMetrics_ZeroDenominators(t *testing.T) {
	m := CategoryMetrics{}
	m.Recompute()
	if m.Precision != 0 || m.Recall != 0 || m.F1 != 0 || m.Accuracy != 0 {
		t.Errorf("expected all zero, got %+v", m)
	}

	m.Observe(OutcomeTrueNegative)
	if m.Precision != 0 || m.Recall != 0 || m.F1 != 0 {
		t.Errorf("expected zero precision/recall/f1 with only TN, got %+v", m)
	}
	if m.Accuracy != 1 {
		t.Errorf("expected accuracy 1, got %f", m.Accuracy)
	}
}

func TestHandoffCriteria(t *testing.T) {
	c := HandoffCriteria{MinSamples: 50, AccuracyThreshold: 0.90}

	ready := CategoryMetrics{TotalSamples: 50, Accuracy: 0.90}
	if !c.Eligible(ready) {
		t.Error("expected boundary metrics to be eligible")
	}

	few := CategoryMetrics{TotalSamples: 49, Accuracy: 1.0}
	if c.Eligible(few) {
		t.Error("expected 49 samples to be ineligible")
	}
	if c.SamplesNeeded(few) != 1 {
		t.Errorf("expected 1 sample needed, got %d", c.SamplesNeeded(few))
	}

	weak := CategoryMetrics{TotalSamples: 50, Accuracy: 0.85}
	if c.Eligible(weak) {
		t.Error("expected 0.85 accuracy to be ineligible")
	}
	if math.Abs(c.AccuracyGap(weak)-0.05) > 1e-9 {
		t.Errorf("unexpected gap %f", c.AccuracyGap(weak))
	}
}

func TestMetricsMark_Since(t *testing.T) {
	m := CategoryMetrics{Category: CategoryCost, TotalSamples: 100, TruePositive: 80, TrueNegative: 16, FalsePositive: 4}
	mark := MetricsMark{Samples: 50, Correct: 50}

	got := mark.Since(m)
	if got.TotalSamples != 50 || got.Accuracy != 0.92 {
		t.Errorf("Since() = %d samples at %v, want 50 at 0.92", got.TotalSamples, got.Accuracy)
	}
	if MarkOf(m) != (MetricsMark{Samples: 100, Correct: 96}) {
		t.Errorf("MarkOf() = %+v", MarkOf(m))
	}

	// A mark ahead of the metrics (rebuilt since) leaves no evidence.
	if got := (MetricsMark{Samples: 120, Correct: 110}).Since(m); got.TotalSamples != 0 || got.Accuracy != 0 {
		t.Errorf("Since() with stale mark = %+v", got)
	}
}
