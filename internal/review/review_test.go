package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/handoff"
	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/store"
)

var (
	cost   = model.CategoryCost
	design = model.CategoryTrialDesign
)

type countingRecorder struct {
	actions map[string]int
}

func (r *countingRecorder) ReviewRecorded(_ context.Context, action string) {
	r.actions[action]++
}

type fixture struct {
	svc      *Service
	store    *store.SQLStore
	tracker  *accuracy.Tracker
	state    *handoff.MemoryState
	recorder *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, model.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "review.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	set := model.MustCategorySet(string(cost), string(design))
	criteria := model.HandoffCriteria{MinSamples: 3, AccuracyThreshold: 0.9}
	tracker := accuracy.NewTracker(s, set, criteria)
	state := handoff.NewMemoryState(set, nil)
	policy := handoff.NewPolicy(state, tracker, set, criteria, "")

	svc := NewService(s, tracker, policy)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	rec := &countingRecorder{actions: map[string]int{}}
	svc.SetRecorder(rec)

	return &fixture{svc: svc, store: s, tracker: tracker, state: state, recorder: rec}
}

func (f *fixture) add(t *testing.T, id string, predicted []model.Category, entropy float64) {
	t.Helper()
	result := &model.EnsembleResult{
		Unit:      model.TextUnit{Text: "Sample text for " + id},
		Accepted:  predicted,
		Agreement: map[model.Category]float64{},
		Entropy:   entropy,
		Votes: model.VoteSet{
			Members: []string{"a", "b"},
			Votes:   map[string][]model.Category{"a": predicted, "b": predicted},
		},
		NeedsReview: true,
		Reasons:     []model.ReviewReason{model.ReasonCategoryReview},
	}
	require.NoError(t, f.store.SaveSample(context.Background(), model.NewLabeledSample(id, result, model.ProvenanceReal, time.Now())))
}

func TestConfirm_UpdatesMetricsAndPromotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", []model.Category{cost}, 0.5)
	f.add(t, "s2", []model.Category{cost}, 0.5)
	f.add(t, "s3", []model.Category{}, 0.5)

	res, err := f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s1", AcceptPredicted: true, Reviewer: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []model.Category{cost}, res.Sample.HumanLabels)
	assert.Empty(t, res.Changed)
	assert.Empty(t, res.Promoted)
	assert.Len(t, res.Evaluations, 2)

	res, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s2", Labels: []string{}, Reviewer: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []model.Category{cost}, res.Changed)
	assert.Empty(t, res.Promoted)

	res, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s3", Labels: nil, Reviewer: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []model.Category{design}, res.Promoted, "trial_design is 3/3 true negatives")

	m, err := f.tracker.Metrics(ctx, cost)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalSamples)
	assert.Equal(t, 1, m.TruePositive)
	assert.Equal(t, 1, m.FalsePositive)
	assert.Equal(t, 1, m.TrueNegative)

	on, _ := f.state.ReviewEnabled(ctx, cost)
	assert.True(t, on, "cost accuracy 0.67 stays under review")
	on, _ = f.state.ReviewEnabled(ctx, design)
	assert.False(t, on)

	assert.Equal(t, 3, f.recorder.actions["confirm"])
}

func TestConfirm_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "s1", []model.Category{cost}, 0.5)

	_, err := f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s1", Labels: []string{"cost"}})
	assert.ErrorIs(t, err, ErrNoReviewer)

	_, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s1", Labels: []string{"astrology"}, Reviewer: "alice"})
	assert.ErrorIs(t, err, model.ErrUnknownCategory)

	_, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "missing", Reviewer: "alice"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s1", Labels: []string{"cost", "cost"}, Reviewer: "alice"})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "s1", Labels: []string{}, Reviewer: "bob"})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	got, _ := f.svc.Get(ctx, "s1")
	assert.Equal(t, []model.Category{cost}, got.HumanLabels, "human labels are immutable")
	assert.Equal(t, "alice", got.ReviewedBy)
}

func TestSkip_MovesSampleBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "high", []model.Category{cost}, 2.0)
	f.add(t, "low", []model.Category{cost}, 0.3)

	pending, err := f.svc.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "high", pending[0].ID)

	n, err := f.svc.Skip(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, _ = f.svc.Pending(ctx, 10)
	assert.Equal(t, "low", pending[0].ID)
	assert.Equal(t, "high", pending[1].ID)
	assert.Equal(t, 1, f.recorder.actions["skip"])

	_, err = f.svc.Confirm(ctx, ConfirmCommand{SampleID: "low", AcceptPredicted: true, Reviewer: "alice"})
	require.NoError(t, err)
	_, err = f.svc.Skip(ctx, "low")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}
