package ensemble

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ambrosia-alliance/processor/internal/cache"
	"github.com/ambrosia-alliance/processor/internal/llm"
	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/worker"
)

// mockScorer is a test double for llm.Scorer
type mockScorer struct {
	name   string
	scores map[string]float64
	err    error
	errs   []error // returned in order before falling back to scores/err
	calls  atomic.Int32
}

func (m *mockScorer) Name() string { return m.name }

func (m *mockScorer) Score(_ context.Context, _ llm.ScoreRequest) (*llm.ScoreResponse, error) {
	n := int(m.calls.Add(1))
	if n <= len(m.errs) {
		return nil, m.errs[n-1]
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ScoreResponse{Scores: m.scores, Model: m.name}, nil
}

func (m *mockScorer) IsAvailable(context.Context) bool { return m.err == nil }

func scorer(name string, scores map[string]float64) *mockScorer {
	return &mockScorer{name: name, scores: scores}
}

func unit(text string) model.TextUnit {
	return model.TextUnit{Text: text, Origin: model.Origin{Source: "test", Index: 0}}
}

func TestCollector_JoinsVotes(t *testing.T) {
	members := []llm.Scorer{
		scorer("m1", map[string]float64{"efficacy_extent": 0.9, "cost": 0.2}),
		scorer("m2", map[string]float64{"efficacy_extent": 0.5}),
		scorer("m3", map[string]float64{}),
	}
	c, err := NewCollector(members, model.DefaultCategorySet(), 0.5)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	vs := c.Collect(context.Background(), unit("Response rate was 40%."))

	if vs.M() != 3 || vs.Responded() != 3 {
		t.Fatalf("M=%d Responded=%d, want 3/3", vs.M(), vs.Responded())
	}
	if got := vs.Votes["m1"]; len(got) != 1 || got[0] != model.CategoryEfficacyExtent {
		t.Errorf("m1 votes = %v", got)
	}
	if got := vs.Votes["m2"]; len(got) != 1 {
		t.Errorf("score at label threshold should vote, got %v", got)
	}
	if got := vs.Votes["m3"]; len(got) != 0 {
		t.Errorf("missing keys should score 0, got votes %v", got)
	}
	if vs.Scores["m3"][model.CategoryCost] != 0 {
		t.Errorf("missing key should be filled with 0")
	}
}

func TestCollector_InvalidResponsesFailMember(t *testing.T) {
	members := []llm.Scorer{
		scorer("unknown", map[string]float64{"not_a_category": 0.9}),
		scorer("range", map[string]float64{"cost": 1.2}),
		scorer("nan", map[string]float64{"cost": math.NaN()}),
		&mockScorer{name: "broken", err: llm.ErrMalformedResponse},
		scorer("ok", map[string]float64{"cost": 0.8}),
	}
	c, err := NewCollector(members, model.DefaultCategorySet(), 0.5)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	vs := c.Collect(context.Background(), unit("Costs were high."))

	if vs.M() != 5 {
		t.Errorf("M = %d, want configured member count 5", vs.M())
	}
	if vs.Responded() != 1 {
		t.Errorf("Responded = %d, want 1", vs.Responded())
	}
	for _, name := range []string{"unknown", "range", "nan", "broken"} {
		if _, ok := vs.Failures[name]; !ok {
			t.Errorf("%s should be recorded as a failure", name)
		}
		if len(vs.Votes[name]) != 0 {
			t.Errorf("%s should contribute no votes", name)
		}
	}
	if !strings.Contains(vs.Failures["unknown"], "unknown category") {
		t.Errorf("failure reason = %q", vs.Failures["unknown"])
	}
}

func TestCollector_RetriesTransientErrors(t *testing.T) {
	orig := collectSleepFunc
	collectSleepFunc = func(time.Duration) {}
	defer func() { collectSleepFunc = orig }()

	flaky := &mockScorer{
		name:   "flaky",
		scores: map[string]float64{"cost": 0.9},
		errs:   []error{errors.New("dial tcp: connection refused")},
	}
	c, _ := NewCollector([]llm.Scorer{flaky}, model.DefaultCategorySet(), 0.5)

	vs := c.Collect(context.Background(), unit("Costs were high."))
	if vs.Responded() != 1 {
		t.Fatalf("retry should recover, failures = %v", vs.Failures)
	}
	if flaky.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", flaky.calls.Load())
	}
}

func TestCollector_UsesScoreCache(t *testing.T) {
	m := scorer("m1", map[string]float64{"cost": 0.9})
	sc := cache.NewScoreCache(cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)
	c, _ := NewCollector([]llm.Scorer{m}, model.DefaultCategorySet(), 0.5, WithScoreCache(sc))

	c.Collect(context.Background(), unit("Costs were high."))
	vs := c.Collect(context.Background(), unit("Costs  were high."))

	if m.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (second served from cache)", m.calls.Load())
	}
	if len(vs.Votes["m1"]) != 1 {
		t.Errorf("cached scores should still vote, got %v", vs.Votes["m1"])
	}
}

func TestCollector_RateLimited(t *testing.T) {
	m := scorer("m1", map[string]float64{"cost": 0.9})
	limiter := worker.NewLimiter(1000, 1)
	c, _ := NewCollector([]llm.Scorer{m}, model.DefaultCategorySet(), 0.5,
		WithLimiter(limiter, map[string]string{"m1": "api.example.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vs := c.Collect(ctx, unit("Costs were high."))
	if vs.Responded() != 0 {
		t.Errorf("cancelled context should fail the member, got %v", vs.Scores)
	}
	if _, ok := vs.Failures["m1"]; !ok {
		t.Errorf("missing failure entry for m1")
	}
}

func TestNewCollector_Validation(t *testing.T) {
	set := model.DefaultCategorySet()
	if _, err := NewCollector(nil, set, 0.5); err == nil {
		t.Error("expected error for empty ensemble")
	}
	dup := []llm.Scorer{scorer("x", nil), scorer("x", nil)}
	if _, err := NewCollector(dup, set, 0.5); err == nil {
		t.Error("expected error for duplicate member names")
	}
}
