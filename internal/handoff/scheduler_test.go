package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

func TestNewScheduler(t *testing.T) {
	p, _, _ := newPolicy()

	s, err := NewScheduler("", p)
	if err != nil || s != nil {
		t.Errorf("empty schedule should disable scheduling, got %v, %v", s, err)
	}

	if _, err := NewScheduler("every tuesday", p); err == nil {
		t.Error("expected error for invalid schedule")
	}

	if _, err := NewScheduler("0 9 * * 1-5", p); err != nil {
		t.Errorf("NewScheduler() error = %v", err)
	}
}

func TestScheduler_RunEvaluatesPolicy(t *testing.T) {
	p, state, metrics := newPolicy()
	metrics.set(model.CategoryCost, 60, 60)

	s, err := NewScheduler("*/15 * * * *", p)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if on, _ := state.ReviewEnabled(context.Background(), model.CategoryCost); on {
		t.Error("scheduled run should promote eligible categories")
	}
}
