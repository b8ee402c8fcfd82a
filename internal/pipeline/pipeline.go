package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/segment"
	"github.com/ambrosia-alliance/processor/internal/worker"
)

// Evaluator classifies a single text unit
type Evaluator interface {
	Evaluate(ctx context.Context, unit model.TextUnit) (*model.EnsembleResult, error)
}

// SampleSaver persists classified samples
type SampleSaver interface {
	SaveSample(ctx context.Context, sample *model.LabeledSample) error
}

// Options control how an ingested unit is stored
type Options struct {
	ForceReview bool             // Queue for review regardless of routing
	Provenance  model.Provenance // Defaults to real
}

// Format is the input document format
type Format string

const (
	FormatText      Format = "text"
	FormatHTML      Format = "html"
	FormatSynthetic Format = "jsonl" // Synthetic generator output, one JSON object per line
)

// DetectFormat guesses the format from a file name
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return FormatHTML
	case ".jsonl":
		return FormatSynthetic
	default:
		return FormatText
	}
}

// Pipeline orchestrates ingest: segment, evaluate, persist
type Pipeline struct {
	engine    Evaluator
	store     SampleSaver
	segmenter *segment.Segmenter
	workers   int
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a pipeline. workers bounds how many units are evaluated concurrently.
func New(engine Evaluator, store SampleSaver, segmenter *segment.Segmenter, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		engine:    engine,
		store:     store,
		segmenter: segmenter,
		workers:   workers,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
		logger:    slog.Default().With("component", "pipeline"),
	}
}

// Process evaluates and persists one real unit. It satisfies worker.Classifier.
func (p *Pipeline) Process(ctx context.Context, unit model.TextUnit) (*model.LabeledSample, error) {
	return p.ProcessWith(ctx, unit, Options{})
}

// ProcessWith evaluates and persists one unit.
// A unit whose decision broke an engine invariant is still stored for review and the
// violation is returned alongside the sample.
func (p *Pipeline) ProcessWith(ctx context.Context, unit model.TextUnit, opts Options) (*model.LabeledSample, error) {
	if opts.Provenance == "" {
		opts.Provenance = model.ProvenanceReal
	}
	if !opts.Provenance.Valid() {
		return nil, fmt.Errorf("pipeline: unknown provenance %q", opts.Provenance)
	}

	result, evalErr := p.engine.Evaluate(ctx, unit)
	if evalErr != nil && (result == nil || !errors.Is(evalErr, model.ErrInvariantViolation)) {
		return nil, evalErr
	}

	if opts.ForceReview {
		result.NeedsReview = true
		if !containsReason(result.Reasons, model.ReasonForced) {
			result.Reasons = append(result.Reasons, model.ReasonForced)
		}
	}

	sample := model.NewLabeledSample(p.newID(), result, opts.Provenance, p.now())
	if err := p.store.SaveSample(ctx, sample); err != nil {
		return nil, fmt.Errorf("save sample: %w", err)
	}

	if evalErr != nil {
		p.logger.ErrorContext(ctx, "sample stored after invariant violation", "sample", sample.ID, "error", evalErr)
		return sample, evalErr
	}
	return sample, nil
}

// Summary describes one ingest run
type Summary struct {
	Source       string                 `json:"source"`
	Format       Format                 `json:"format"`
	Units        int                    `json:"units"`
	Stored       int                    `json:"stored"`
	NeedsReview  int                    `json:"needs_review"`
	AutoAccepted int                    `json:"auto_accepted"`
	Failed       int                    `json:"failed"`
	Samples      []*model.LabeledSample `json:"samples"`
	Errors       []string               `json:"errors,omitempty"`
}

// ProcessDocument segments a document and ingests every unit
func (p *Pipeline) ProcessDocument(ctx context.Context, source, content string, format Format) (*Summary, error) {
	var (
		units []model.TextUnit
		opts  Options
		err   error
	)

	switch format {
	case FormatHTML:
		units, err = p.segmenter.HTML(source, content)
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
	case FormatSynthetic:
		var bad []string
		units, bad, err = ParseSynthetic(strings.NewReader(content), source)
		if err != nil {
			return nil, err
		}
		opts = Options{ForceReview: true, Provenance: model.ProvenanceSynthetic}
		summary := p.ingest(ctx, source, format, units, opts)
		summary.Failed += len(bad)
		summary.Errors = append(bad, summary.Errors...)
		return summary, nil
	case FormatText, "":
		format = FormatText
		units = p.segmenter.Text(source, content)
	default:
		return nil, fmt.Errorf("pipeline: unsupported format %q", format)
	}

	return p.ingest(ctx, source, format, units, opts), nil
}

func (p *Pipeline) ingest(ctx context.Context, source string, format Format, units []model.TextUnit, opts Options) *Summary {
	summary := &Summary{
		Source:  source,
		Format:  format,
		Units:   len(units),
		Samples: make([]*model.LabeledSample, 0, len(units)),
	}

	p.logger.InfoContext(ctx, "ingest started", "source", source, "format", format, "units", len(units), "workers", p.workers)

	processor := worker.NewBatchProcessor(classifier{p: p, opts: opts}, p.workers)
	for _, r := range processor.ProcessUnits(ctx, units) {
		if r.Sample != nil {
			summary.Stored++
			summary.Samples = append(summary.Samples, r.Sample)
			if r.Sample.NeedsReview {
				summary.NeedsReview++
			} else {
				summary.AutoAccepted++
			}
		}
		if r.Error != nil {
			if r.Sample == nil {
				summary.Failed++
			}
			summary.Errors = append(summary.Errors, fmt.Sprintf("unit %d: %v", r.Index, r.Error))
		}
	}

	p.logger.InfoContext(ctx, "ingest finished",
		"source", source, "stored", summary.Stored, "needs_review", summary.NeedsReview, "failed", summary.Failed)
	return summary
}

// classifier binds ingest options to the batch processor
type classifier struct {
	p    *Pipeline
	opts Options
}

func (c classifier) Process(ctx context.Context, unit model.TextUnit) (*model.LabeledSample, error) {
	return c.p.ProcessWith(ctx, unit, c.opts)
}

func containsReason(reasons []model.ReviewReason, r model.ReviewReason) bool {
	for _, x := range reasons {
		if x == r {
			return true
		}
	}
	return false
}
