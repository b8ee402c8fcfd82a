package worker

import (
	"context"
	"fmt"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// Classifier turns one text unit into a persisted sample
type Classifier interface {
	Process(ctx context.Context, unit model.TextUnit) (*model.LabeledSample, error)
}

// UnitJob classifies a single text unit
type UnitJob struct {
	Index      int
	Unit       model.TextUnit
	Classifier Classifier
}

// Execute executes the classification job
func (j *UnitJob) Execute(ctx context.Context) Result {
	sample, err := j.Classifier.Process(ctx, j.Unit)
	return &UnitResult{
		Index:  j.Index,
		Unit:   j.Unit,
		Sample: sample,
		Error:  err,
	}
}

// UnitResult represents the result of a classification job
type UnitResult struct {
	Index  int
	Unit   model.TextUnit
	Sample *model.LabeledSample
	Error  error
}

// GetError returns the error from the result
func (r *UnitResult) GetError() error {
	return r.Error
}

// BatchProcessor classifies many text units concurrently
type BatchProcessor struct {
	classifier  Classifier
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(classifier Classifier, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		classifier:  classifier,
		concurrency: concurrency,
	}
}

// ProcessUnits classifies units concurrently and returns results in input order.
// Units never started because ctx was cancelled carry the context error.
func (b *BatchProcessor) ProcessUnits(ctx context.Context, units []model.TextUnit) []*UnitResult {
	if len(units) == 0 {
		return []*UnitResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, unit := range units {
		job := &UnitJob{
			Index:      i,
			Unit:       unit,
			Classifier: b.classifier,
		}
		if !pool.Submit(job) {
			break
		}
	}

	ordered := make([]*UnitResult, len(units))
	for _, result := range pool.Wait() {
		r := result.(*UnitResult)
		ordered[r.Index] = r
	}

	for i := range ordered {
		if ordered[i] == nil {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("unit %d was not processed", i)
			}
			ordered[i] = &UnitResult{Index: i, Unit: units[i], Error: err}
		}
	}

	return ordered
}
