package ensemble

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// ErrEmptyText is returned when a unit has no text to classify
var ErrEmptyText = errors.New("ensemble: empty text")

// Recorder receives ensemble outcomes for telemetry
type Recorder interface {
	MemberScored(ctx context.Context, member string, elapsed time.Duration, err error)
	UnitDecided(ctx context.Context, result *model.EnsembleResult)
}

type nopRecorder struct{}

func (nopRecorder) MemberScored(context.Context, string, time.Duration, error) {}
func (nopRecorder) UnitDecided(context.Context, *model.EnsembleResult)        {}

// Engine evaluates text units: collect, vote, measure entropy, route
type Engine struct {
	collector *Collector
	voter     Voter
	router    Router
	recorder  Recorder
	logger    *slog.Logger
}

// NewEngine creates an engine. A nil recorder disables telemetry.
func NewEngine(collector *Collector, voter Voter, router Router, recorder Recorder) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		collector: collector,
		voter:     voter,
		router:    router,
		recorder:  recorder,
		logger:    slog.Default().With("component", "ensemble"),
	}
}

// NewEngineFromConfig wires voter and router thresholds from configuration
func NewEngineFromConfig(cfg *model.Config, collector *Collector, state ReviewState, recorder Recorder) (*Engine, error) {
	set, err := cfg.CategorySet()
	if err != nil {
		return nil, err
	}
	voter := NewVoter(cfg.Thresholds.Supermajority, set)
	router := Router{
		EntropyThreshold: cfg.Thresholds.Entropy,
		Supermajority:    cfg.Thresholds.Supermajority,
		MinResponding:    cfg.Thresholds.MinRespondingModels,
		State:            state,
	}
	return NewEngine(collector, voter, router, recorder), nil
}

// Members returns the ensemble member names
func (e *Engine) Members() []string {
	return e.collector.Members()
}

// Evaluate classifies one unit. Member failures degrade the vote; they are not errors.
func (e *Engine) Evaluate(ctx context.Context, unit model.TextUnit) (*model.EnsembleResult, error) {
	if strings.TrimSpace(unit.Text) == "" {
		return nil, ErrEmptyText
	}

	votes := e.collector.Collect(ctx, unit)
	return e.Decide(ctx, unit, votes)
}

// Decide runs the pure part of the flow on an already joined vote set
func (e *Engine) Decide(ctx context.Context, unit model.TextUnit, votes model.VoteSet) (*model.EnsembleResult, error) {
	decision, err := e.voter.Vote(votes)
	if err != nil {
		return nil, err
	}
	entropy := Entropy(decision.Agreement)
	routing, err := e.router.Route(ctx, decision, entropy, votes.Responded())

	result := &model.EnsembleResult{
		Unit:           unit,
		Accepted:       decision.Accepted,
		Agreement:      decision.Agreement,
		Entropy:        entropy,
		NeedsReview:    routing.NeedsReview,
		CategoryReview: routing.CategoryReview,
		Reasons:        routing.Reasons,
		Votes:          votes,
		Responded:      votes.Responded(),
	}
	if err != nil {
		return result, err
	}

	e.recorder.UnitDecided(ctx, result)
	e.logger.DebugContext(ctx, "unit decided",
		"source", unit.Origin.Source,
		"index", unit.Origin.Index,
		"accepted", len(result.Accepted),
		"entropy", entropy,
		"responded", result.Responded,
		"needs_review", result.NeedsReview)

	return result, nil
}
