package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/cache"
	"github.com/ambrosia-alliance/processor/internal/ensemble"
	"github.com/ambrosia-alliance/processor/internal/handoff"
	"github.com/ambrosia-alliance/processor/internal/llm"
	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/pipeline"
	"github.com/ambrosia-alliance/processor/internal/review"
	"github.com/ambrosia-alliance/processor/internal/segment"
	"github.com/ambrosia-alliance/processor/internal/store"
	"github.com/ambrosia-alliance/processor/internal/telemetry"
	"github.com/ambrosia-alliance/processor/internal/worker"
)

// app wires the components a command needs
type app struct {
	cfg       *model.Config
	set       *model.CategorySet
	store     *store.SQLStore
	state     handoff.State
	tracker   *accuracy.Tracker
	policy    *handoff.Policy
	review    *review.Service
	telemetry *telemetry.Provider
	renderer  *pipeline.Renderer

	// Populated by withEngine
	scorers  []llm.Scorer
	engine   *ensemble.Engine
	pipeline *pipeline.Pipeline

	closers []func(context.Context) error
}

// newApp opens storage and handoff state
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	set, err := cfg.CategorySet()
	if err != nil {
		return nil, err
	}
	initial, err := cfg.InitialReviewState(set)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, set: set, renderer: pipeline.NewRenderer(cfg.Output.Format)}

	a.telemetry, err = telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	a.store, err = store.Open(ctx, cfg.Storage)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	switch cfg.Storage.HandoffBackend {
	case "redis":
		rs, err := handoff.NewRedisState(ctx, cfg.Storage.Redis, set, initial)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
		a.state = rs
	case "memory":
		a.state = handoff.NewMemoryState(set, initial)
	default:
		a.state, err = a.store.HandoffState(ctx, set, initial)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	criteria := cfg.Criteria()
	a.tracker = accuracy.NewTracker(a.store, set, criteria)
	a.policy = handoff.NewPolicy(a.state, a.tracker, set, criteria, cfg.Handoff.Actor)
	a.policy.SetObserver(a.telemetry)
	a.review = review.NewService(a.store, a.tracker, a.policy)
	a.review.SetRecorder(a.telemetry)

	return a, nil
}

// withEngine builds the ensemble and ingest pipeline
func (a *app) withEngine() error {
	cfg := a.cfg
	scorers, err := llm.NewEnsemble(cfg.Models)
	if err != nil {
		return err
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	keys := make(map[string]string, len(cfg.Models))
	for _, m := range cfg.Models {
		key := worker.KeyFor(m.Name, m.BaseURL)
		keys[m.Name] = key
		if m.RatePerSec > 0 {
			limiter.SetRate(key, m.RatePerSec, 0)
		}
	}

	opts := []ensemble.CollectorOption{
		ensemble.WithWorkers(cfg.Concurrency.ModelWorkers),
		ensemble.WithLimiter(limiter, keys),
		ensemble.WithRecorder(a.telemetry),
	}
	if backend := cache.New(cfg.Cache); backend != nil {
		opts = append(opts, ensemble.WithScoreCache(cache.NewScoreCache(backend, cfg.Cache.DiskTTL)))
	}

	collector, err := ensemble.NewCollector(scorers, a.set, cfg.Thresholds.Label, opts...)
	if err != nil {
		return err
	}
	engine, err := ensemble.NewEngineFromConfig(cfg, collector, a.state, a.telemetry)
	if err != nil {
		return err
	}

	a.scorers = scorers
	a.engine = engine
	a.pipeline = pipeline.New(engine, a.store, segment.New(cfg.Segment), cfg.Concurrency.BatchWorkers)
	return nil
}

// Close releases resources in reverse order
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Default().With("component", "cli").WarnContext(ctx, "close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) render(v any) error {
	return a.renderer.Render(os.Stdout, v)
}

// snapshot returns the current review flags
func (a *app) snapshot(ctx context.Context) (map[model.Category]bool, error) {
	snap, err := a.state.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read handoff state: %w", err)
	}
	return snap, nil
}
