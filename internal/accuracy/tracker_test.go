package accuracy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambrosia-alliance/processor/internal/model"
)

var criteria = model.HandoffCriteria{MinSamples: 50, AccuracyThreshold: 0.90}

func newTracker() (*Tracker, *MemoryLedger) {
	ledger := NewMemoryLedger()
	t := NewTracker(ledger, model.DefaultCategorySet(), criteria)
	t.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return t, ledger
}

func reviewed(id string, predicted, human []model.Category) *model.LabeledSample {
	if human == nil {
		human = []model.Category{}
	}
	return &model.LabeledSample{ID: id, EnsemblePredictions: predicted, HumanLabels: human}
}

func TestTracker_ConfusionCells(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	s := reviewed("s1",
		[]model.Category{model.CategoryCost, model.CategoryTrialDesign},
		[]model.Category{model.CategoryCost, model.CategoryTrialLength})
	require.NoError(t, tr.Record(ctx, s))

	cost, _ := tr.Metrics(ctx, model.CategoryCost)
	design, _ := tr.Metrics(ctx, model.CategoryTrialDesign)
	length, _ := tr.Metrics(ctx, model.CategoryTrialLength)
	other, _ := tr.Metrics(ctx, model.CategoryOtherStudyInfo)

	assert.Equal(t, 1, cost.TruePositive)
	assert.Equal(t, 1, design.FalsePositive)
	assert.Equal(t, 1, length.FalseNegative)
	assert.Equal(t, 1, other.TrueNegative)

	all, err := tr.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 13)
	for _, m := range all {
		assert.Equal(t, 1, m.TotalSamples, m.Category)
		assert.True(t, m.Consistent(), m.Category)
		assert.Equal(t, 2026, m.LastUpdated.Year())
	}
}

func TestTracker_ZeroLabelSampleIsTrueNegative(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()
	require.NoError(t, tr.Record(ctx, reviewed("s1", nil, nil)))

	all, _ := tr.All(ctx)
	for _, m := range all {
		assert.Equal(t, 1, m.TrueNegative, m.Category)
		assert.Equal(t, 1.0, m.Accuracy)
		assert.Equal(t, 0.0, m.Precision, "zero denominator yields 0")
	}
}

func TestTracker_DuplicateIsRejected(t *testing.T) {
	tr, ledger := newTracker()
	ctx := context.Background()
	s := reviewed("dup", []model.Category{model.CategoryCost}, []model.Category{model.CategoryCost})

	require.NoError(t, tr.Record(ctx, s))
	err := tr.Record(ctx, s)
	assert.True(t, errors.Is(err, ErrAlreadyCounted))
	assert.True(t, errors.Is(err, model.ErrInvariantViolation))
	assert.True(t, ledger.Counted("dup"))

	m, _ := tr.Metrics(ctx, model.CategoryCost)
	assert.Equal(t, 1, m.TotalSamples, "duplicate must leave counts untouched")
}

func TestTracker_RequiresHumanLabels(t *testing.T) {
	tr, _ := newTracker()
	err := tr.Record(context.Background(), &model.LabeledSample{ID: "x"})
	assert.ErrorIs(t, err, ErrNotReviewed)

	_, err = tr.Metrics(context.Background(), model.Category("nope"))
	assert.ErrorIs(t, err, model.ErrUnknownCategory)
}

func TestTracker_RejectsUnknownLabels(t *testing.T) {
	tr, ledger := newTracker()
	ctx := context.Background()

	err := tr.Record(ctx, reviewed("retired", nil, []model.Category{"dropped_category"}))
	assert.ErrorIs(t, err, model.ErrUnknownCategory)
	err = tr.Record(ctx, reviewed("retired2", []model.Category{"dropped_category"}, nil))
	assert.ErrorIs(t, err, model.ErrUnknownCategory)
	assert.False(t, ledger.Counted("retired"))

	_, err = tr.Rebuild(ctx, []*model.LabeledSample{reviewed("retired", nil, []model.Category{"dropped_category"})})
	assert.ErrorIs(t, err, model.ErrUnknownCategory, "rebuild must not drop labels silently")
}

func TestTracker_ConcurrentRecords(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := reviewed(fmt.Sprintf("s%d", i), []model.Category{model.CategoryCost}, nil)
			assert.NoError(t, tr.Record(ctx, s))
		}(i)
	}
	wg.Wait()

	m, _ := tr.Metrics(ctx, model.CategoryCost)
	assert.Equal(t, 100, m.TotalSamples)
	assert.Equal(t, 100, m.FalsePositive)
	assert.True(t, m.Consistent())
}

func TestTracker_CanAutoAccept(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	// 46 correct positives + 4 misses = 50 samples at 0.92 accuracy.
	for i := 0; i < 50; i++ {
		human := []model.Category{model.CategoryCost}
		predicted := human
		if i < 4 {
			predicted = nil
		}
		require.NoError(t, tr.Record(ctx, reviewed(fmt.Sprintf("s%d", i), predicted, human)))
	}

	m, _ := tr.Metrics(ctx, model.CategoryCost)
	assert.Equal(t, 50, m.TotalSamples)
	assert.InDelta(t, 0.92, m.Accuracy, 1e-9)
	assert.True(t, m.CanAutoAccept)
}

func TestTracker_Rebuild(t *testing.T) {
	tr, ledger := newTracker()
	ctx := context.Background()
	samples := []*model.LabeledSample{
		reviewed("a", []model.Category{model.CategoryCost}, []model.Category{model.CategoryCost}),
		reviewed("b", nil, nil),
		{ID: "unreviewed"},
	}
	for _, s := range samples[:2] {
		require.NoError(t, tr.Record(ctx, s))
	}

	n, err := tr.Rebuild(ctx, samples)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, ledger.Counted("a"))

	m, _ := tr.Metrics(ctx, model.CategoryCost)
	assert.Equal(t, 2, m.TotalSamples, "rebuild replays from zero")
}

func TestTrackerProperties(t *testing.T) {
	set := model.DefaultCategorySet()
	toLabels := func(mask uint16) []model.Category {
		out := []model.Category{}
		for i, c := range set.All() {
			if mask&(1<<uint(i)) != 0 {
				out = append(out, c)
			}
		}
		return out
	}
	build := func(pred, human []uint16) []*model.LabeledSample {
		n := len(pred)
		if len(human) < n {
			n = len(human)
		}
		out := make([]*model.LabeledSample, n)
		for i := 0; i < n; i++ {
			out[i] = reviewed(fmt.Sprintf("s%d", i), toLabels(pred[i]), toLabels(human[i]))
		}
		return out
	}
	snapshot := func(tr *Tracker) []model.CategoryMetrics {
		all, _ := tr.All(context.Background())
		for i := range all {
			all[i].LastUpdated = time.Time{}
		}
		return all
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("counts always sum to total", prop.ForAll(
		func(pred, human []uint16) bool {
			tr, _ := newTracker()
			for i, s := range build(pred, human) {
				if err := tr.Record(context.Background(), s); err != nil {
					return false
				}
				for _, m := range snapshot(tr) {
					if !m.Consistent() || m.TotalSamples != i+1 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt16()), gen.SliceOf(gen.UInt16()),
	))

	properties.Property("final metrics independent of order", prop.ForAll(
		func(pred, human []uint16) bool {
			samples := build(pred, human)
			forward, _ := newTracker()
			backward, _ := newTracker()
			for _, s := range samples {
				_ = forward.Record(context.Background(), s)
			}
			for i := len(samples) - 1; i >= 0; i-- {
				_ = backward.Record(context.Background(), samples[i])
			}
			return reflect.DeepEqual(snapshot(forward), snapshot(backward))
		},
		gen.SliceOf(gen.UInt16()), gen.SliceOf(gen.UInt16()),
	))

	properties.TestingRun(t)
}
