package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/model"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), model.StorageConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(id string, entropy float64, needsReview bool) *model.LabeledSample {
	return &model.LabeledSample{
		ID:                  id,
		Text:                "Patients reported mild nausea in " + id,
		Origin:              model.Origin{Source: "doc.txt", Index: 3},
		ModelPredictions:    map[string][]model.Category{"gpt": {model.CategorySideEffectSeverity}, "claude": {}},
		ModelScores:         map[string]map[model.Category]float64{"gpt": {model.CategorySideEffectSeverity: 0.8}},
		ModelFailures:       map[string]string{"llama": "timeout"},
		EnsemblePredictions: []model.Category{},
		AgreementScores:     map[model.Category]float64{model.CategorySideEffectSeverity: 0.5},
		Entropy:             entropy,
		NeedsReview:         needsReview,
		ReviewReasons:       []model.ReviewReason{model.ReasonInsufficientVotes},
		Provenance:          model.ProvenanceReal,
		CreatedAt:           baseTime,
	}
}

func TestSampleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := sample("s1", 0.7, true)
	require.NoError(t, s.SaveSample(ctx, in))

	out, err := s.GetSample(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, in.Text, out.Text)
	assert.Equal(t, in.Origin, out.Origin)
	assert.Equal(t, in.ModelPredictions, out.ModelPredictions)
	assert.Equal(t, in.ModelScores, out.ModelScores)
	assert.Equal(t, in.ModelFailures, out.ModelFailures)
	assert.Equal(t, in.AgreementScores, out.AgreementScores)
	assert.Equal(t, in.ReviewReasons, out.ReviewReasons)
	assert.True(t, out.CreatedAt.Equal(baseTime))
	assert.Nil(t, out.HumanLabels, "human labels stay NULL until review")
	assert.False(t, out.Reviewed())

	_, err = s.GetSample(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveSample(ctx, in), "samples are never overwritten")
}

func TestMarkReviewed_Immutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSample(ctx, sample("s1", 0.7, true)))

	require.NoError(t, s.MarkReviewed(ctx, "s1", nil, "alice", baseTime.Add(time.Hour)))
	got, _ := s.GetSample(ctx, "s1")
	require.NotNil(t, got.HumanLabels, "zero-label review is stored as an empty set")
	assert.Empty(t, got.HumanLabels)
	assert.Equal(t, "alice", got.ReviewedBy)

	err := s.MarkReviewed(ctx, "s1", []model.Category{model.CategoryCost}, "bob", baseTime)
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
	assert.ErrorIs(t, s.MarkReviewed(ctx, "nope", nil, "bob", baseTime), ErrNotFound)

	_, err = s.IncrementSkip(ctx, "s1")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}

func TestListPending_Order(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSample(ctx, sample("low", 0.2, true)))
	require.NoError(t, s.SaveSample(ctx, sample("high", 1.9, true)))
	require.NoError(t, s.SaveSample(ctx, sample("skipped", 2.5, true)))
	require.NoError(t, s.SaveSample(ctx, sample("auto", 0.1, false)))
	require.NoError(t, s.SaveSample(ctx, sample("done", 3.0, true)))
	require.NoError(t, s.MarkReviewed(ctx, "done", nil, "alice", baseTime))

	n, err := s.IncrementSkip(ctx, "skipped")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	var ids []string
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"high", "low", "skipped"}, ids)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SampleStats{Total: 5, Reviewed: 1, PendingReview: 3, AutoAccepted: 1}, st)
}

func TestExportJSONL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSample(ctx, sample("a", 1, true)))
	require.NoError(t, s.SaveSample(ctx, sample("b", 1, true)))
	require.NoError(t, s.MarkReviewed(ctx, "a", []model.Category{model.CategoryCost}, "alice", baseTime))

	var buf bytes.Buffer
	n, err := s.ExportJSONL(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec TrainingRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, []string{"cost"}, rec.Labels)
}

func TestLedger_WithTracker(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tracker := accuracy.NewTracker(s, model.DefaultCategorySet(), model.HandoffCriteria{MinSamples: 50, AccuracyThreshold: 0.9})

	in := sample("s1", 0.7, true)
	in.EnsemblePredictions = []model.Category{model.CategoryCost}
	require.NoError(t, s.SaveSample(ctx, in))
	require.NoError(t, s.MarkReviewed(ctx, "s1", []model.Category{model.CategoryCost}, "alice", baseTime))

	reviewed, _ := s.GetSample(ctx, "s1")
	require.NoError(t, tracker.Record(ctx, reviewed))

	err := tracker.Record(ctx, reviewed)
	assert.ErrorIs(t, err, accuracy.ErrAlreadyCounted)

	m, err := s.Load(ctx, model.CategoryCost)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalSamples)
	assert.Equal(t, 1, m.TruePositive)
	assert.Equal(t, 1.0, m.Precision)

	got, _ := s.GetSample(ctx, "s1")
	assert.True(t, got.MetricsApplied)

	all, _ := s.ListReviewed(ctx)
	n, err := tracker.Rebuild(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	m, _ = s.Load(ctx, model.CategoryCost)
	assert.Equal(t, 1, m.TotalSamples, "rebuild replays exactly once")
}

func TestHandoffState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	set := model.DefaultCategorySet()

	h, err := s.HandoffState(ctx, set, map[model.Category]bool{model.CategoryTrialDesign: false})
	require.NoError(t, err)

	on, err := h.ReviewEnabled(ctx, model.CategoryCost)
	require.NoError(t, err)
	assert.True(t, on)
	on, _ = h.ReviewEnabled(ctx, model.CategoryTrialDesign)
	assert.False(t, on)

	changed, err := h.Promote(ctx, model.CategoryCost, "policy", "accuracy 0.95", model.MetricsMark{})
	require.NoError(t, err)
	assert.True(t, changed)
	changed, _ = h.Promote(ctx, model.CategoryCost, "policy", "again", model.MetricsMark{})
	assert.False(t, changed)

	// Seeding again keeps persisted flags.
	h, err = s.HandoffState(ctx, set, nil)
	require.NoError(t, err)
	snap, _ := h.Snapshot(ctx)
	assert.False(t, snap[model.CategoryCost])
	assert.False(t, snap[model.CategoryTrialDesign])
	assert.True(t, snap[model.CategoryTrialLength])

	changed, err = h.Revert(ctx, model.CategoryCost, "alice", "drift", model.MetricsMark{Samples: 60, Correct: 57})
	require.NoError(t, err)
	assert.True(t, changed)

	events, err := h.Events(ctx, model.CategoryCost, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "alice", events[0].Actor)
	assert.True(t, events[0].To)
	assert.Equal(t, model.MetricsMark{Samples: 60, Correct: 57}, events[0].Mark)
	assert.Equal(t, "policy", events[1].Actor)

	_, err = h.Promote(ctx, "bogus", "policy", "", model.MetricsMark{})
	assert.ErrorIs(t, err, model.ErrUnknownCategory)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), model.StorageConfig{Driver: "postgres", Path: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestSaveSample_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := &SQLStore{db: db, now: time.Now}
	mock.ExpectExec("INSERT INTO labeled_samples").WillReturnError(errors.New("disk full"))

	err = s.SaveSample(context.Background(), sample("s1", 1, true))
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := &SQLStore{db: db, now: func() time.Time { return baseTime }}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metrics_ledger").
		WithArgs("s1", formatTime(baseTime)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT total_samples").
		WithArgs(string(model.CategoryCost)).
		WillReturnRows(sqlmock.NewRows([]string{"total_samples"}))
	mock.ExpectExec("INSERT INTO category_metrics").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err = s.Apply(context.Background(), "s1", []model.Category{model.CategoryCost}, observe(model.OutcomeTruePositive))
	assert.ErrorContains(t, err, "locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_DuplicateWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := &SQLStore{db: db, now: time.Now}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO metrics_ledger").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.Apply(context.Background(), "s1", []model.Category{model.CategoryCost}, observe(model.OutcomeTruePositive))
	assert.ErrorIs(t, err, accuracy.ErrAlreadyCounted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_FoldErrorWritesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Apply(ctx, "s1", []model.Category{model.CategoryCost}, func(*model.CategoryMetrics) error {
		return model.ErrInvariantViolation
	})
	assert.ErrorIs(t, err, model.ErrInvariantViolation)

	// The ledger row was rolled back with the failed fold.
	require.NoError(t, s.Apply(ctx, "s1", []model.Category{model.CategoryCost}, observe(model.OutcomeTruePositive)))
	m, err := s.Load(ctx, model.CategoryCost)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalSamples)
}

func TestApply_TwoHandlesShareOneFile(t *testing.T) {
	cfg := model.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "shared.db")}
	ctx := context.Background()
	set := model.DefaultCategorySet()
	criteria := model.HandoffCriteria{MinSamples: 50, AccuracyThreshold: 0.9}

	const perHandle = 50
	var wg sync.WaitGroup
	for h := 0; h < 2; h++ {
		s, err := Open(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		tracker := accuracy.NewTracker(s, set, criteria)

		for i := 0; i < perHandle; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				cost := []model.Category{model.CategoryCost}
				assert.NoError(t, tracker.Record(ctx, &model.LabeledSample{ID: id, EnsemblePredictions: cost, HumanLabels: cost}))
			}(fmt.Sprintf("h%d-s%d", h, i))
		}
	}
	wg.Wait()

	check, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = check.Close() }()

	m, err := check.Load(ctx, model.CategoryCost)
	require.NoError(t, err)
	assert.Equal(t, 2*perHandle, m.TotalSamples, "no update may be lost between handles")
	assert.Equal(t, 2*perHandle, m.TruePositive)
	assert.True(t, m.Consistent())

	other, err := check.Load(ctx, model.CategoryTrialDesign)
	require.NoError(t, err)
	assert.Equal(t, 2*perHandle, other.TrueNegative)
}

func observe(o model.Outcome) accuracy.Fold {
	return func(m *model.CategoryMetrics) error {
		m.Observe(o)
		return nil
	}
}
