package ensemble

import (
	"math"
	"testing"

	"github.com/ambrosia-alliance/processor/internal/model"
)

func TestEntropy(t *testing.T) {
	tests := []struct {
		name      string
		agreement map[model.Category]float64
		want      float64
	}{
		{"no votes", nil, 0},
		{"single category", map[model.Category]float64{catA: 1}, 0},
		{"two equal", map[model.Category]float64{catA: 0.4, catB: 0.4}, 1},
		{"four equal", map[model.Category]float64{catA: 1, catB: 1, catC: 1, model.CategoryTrialDesign: 1}, 2},
		{"zero entries ignored", map[model.Category]float64{catA: 1, catB: 0}, 0},
		{"scenario", map[model.Category]float64{catA: 1.0, catB: 0.4, catC: 0.2}, scenarioEntropy()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Entropy(tt.agreement)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Entropy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func scenarioEntropy() float64 {
	var h float64
	for _, p := range []float64{1.0 / 1.6, 0.4 / 1.6, 0.2 / 1.6} {
		h -= p * math.Log2(p)
	}
	return h
}

func TestEntropy_UniformIsMaximal(t *testing.T) {
	uniform := Entropy(map[model.Category]float64{catA: 0.6, catB: 0.6, catC: 0.6})
	skewed := Entropy(map[model.Category]float64{catA: 1.0, catB: 0.6, catC: 0.2})

	if uniform <= skewed {
		t.Errorf("uniform entropy %v should exceed skewed %v", uniform, skewed)
	}
	if math.Abs(uniform-math.Log2(3)) > 1e-12 {
		t.Errorf("uniform entropy = %v, want log2(3)", uniform)
	}
}
