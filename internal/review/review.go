// Package review implements the human review queue.
//
// Reviewers pull pending samples, then either confirm labels (accepting the
// ensemble prediction or replacing it) or skip. A confirmation is written once,
// folded into category metrics and followed by a policy pass over every category.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/handoff"
	"github.com/ambrosia-alliance/processor/internal/model"
)

var (
	// ErrNoReviewer is returned when a confirmation carries no reviewer identity
	ErrNoReviewer = errors.New("review: reviewer is required")

	// ErrAlreadyReviewed is returned when confirming or skipping a reviewed sample
	ErrAlreadyReviewed = errors.New("review: sample already reviewed")
)

// SampleStore is the persistence the review queue needs
type SampleStore interface {
	GetSample(ctx context.Context, id string) (*model.LabeledSample, error)
	ListPending(ctx context.Context, limit int) ([]*model.LabeledSample, error)
	MarkReviewed(ctx context.Context, id string, labels []model.Category, reviewer string, at time.Time) error
	IncrementSkip(ctx context.Context, id string) (int, error)
}

// Recorder observes review actions
type Recorder interface {
	ReviewRecorded(ctx context.Context, action string)
}

// ConfirmCommand confirms the labels of one sample.
// With AcceptPredicted set, Labels is ignored and the ensemble prediction is confirmed.
type ConfirmCommand struct {
	SampleID        string   `json:"sample_id"`
	Labels          []string `json:"labels"`
	AcceptPredicted bool     `json:"accept_predicted"`
	Reviewer        string   `json:"reviewer"`
}

// ConfirmResult reports what a confirmation changed
type ConfirmResult struct {
	Sample      *model.LabeledSample `json:"sample"`
	Changed     []model.Category     `json:"changed"`  // Categories where the human disagreed with the ensemble
	Promoted    []model.Category     `json:"promoted"` // Categories handed off by this confirmation
	Evaluations []handoff.Evaluation `json:"evaluations"`
}

// Service is the review queue
type Service struct {
	store      SampleStore
	tracker    *accuracy.Tracker
	policy     *handoff.Policy
	categories *model.CategorySet
	recorder   Recorder
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates the review queue. policy may be nil to skip evaluation after confirm.
func NewService(store SampleStore, tracker *accuracy.Tracker, policy *handoff.Policy) *Service {
	return &Service{
		store:      store,
		tracker:    tracker,
		policy:     policy,
		categories: tracker.Categories(),
		now:        time.Now,
		logger:     slog.Default().With("component", "review"),
	}
}

// SetRecorder registers a review action recorder
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Pending lists unreviewed samples that need review, highest entropy first
// with skipped samples last
func (s *Service) Pending(ctx context.Context, limit int) ([]*model.LabeledSample, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListPending(ctx, limit)
}

// Get returns one sample
func (s *Service) Get(ctx context.Context, id string) (*model.LabeledSample, error) {
	return s.store.GetSample(ctx, id)
}

// Confirm records human labels, updates accuracy metrics and evaluates the handoff policy
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (*ConfirmResult, error) {
	if cmd.Reviewer == "" {
		return nil, ErrNoReviewer
	}

	sample, err := s.store.GetSample(ctx, cmd.SampleID)
	if err != nil {
		return nil, err
	}
	if sample.Reviewed() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyReviewed, sample.ID)
	}

	var labels []model.Category
	if cmd.AcceptPredicted {
		labels, err = s.categories.Normalize(sample.EnsemblePredictions)
	} else {
		labels, err = s.categories.ParseLabels(cmd.Labels)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkReviewed(ctx, sample.ID, labels, cmd.Reviewer, s.now().UTC()); err != nil {
		return nil, err
	}

	// Reload so the ledger sees exactly what was persisted.
	reviewed, err := s.store.GetSample(ctx, sample.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Record(ctx, reviewed); err != nil {
		s.logger.ErrorContext(ctx, "review stored but metrics not updated; run metrics rebuild",
			"sample", sample.ID, "error", err)
		return nil, fmt.Errorf("record metrics: %w", err)
	}

	result := &ConfirmResult{
		Sample:   reviewed,
		Changed:  diff(s.categories, reviewed.EnsemblePredictions, reviewed.HumanLabels),
		Promoted: []model.Category{},
	}

	if s.policy != nil {
		evals, err := s.policy.EvaluateAll(ctx)
		if err != nil {
			return result, fmt.Errorf("evaluate handoff: %w", err)
		}
		result.Evaluations = evals
		for _, ev := range evals {
			if ev.Promoted {
				result.Promoted = append(result.Promoted, ev.Category)
			}
		}
	}

	if s.recorder != nil {
		s.recorder.ReviewRecorded(ctx, "confirm")
	}
	s.logger.InfoContext(ctx, "sample confirmed",
		"sample", sample.ID, "reviewer", cmd.Reviewer, "labels", len(labels), "changed", len(result.Changed))
	return result, nil
}

// Skip defers a sample; skipped samples sort behind unskipped ones
func (s *Service) Skip(ctx context.Context, id string) (int, error) {
	sample, err := s.store.GetSample(ctx, id)
	if err != nil {
		return 0, err
	}
	if sample.Reviewed() {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyReviewed, id)
	}

	count, err := s.store.IncrementSkip(ctx, id)
	if err != nil {
		return 0, err
	}
	if s.recorder != nil {
		s.recorder.ReviewRecorded(ctx, "skip")
	}
	s.logger.DebugContext(ctx, "sample skipped", "sample", id, "skips", count)
	return count, nil
}

// diff returns categories present in exactly one of predicted and confirmed
func diff(set *model.CategorySet, predicted, confirmed []model.Category) []model.Category {
	out := []model.Category{}
	for _, c := range set.All() {
		if model.ContainsCategory(predicted, c) != model.ContainsCategory(confirmed, c) {
			out = append(out, c)
		}
	}
	return out
}
