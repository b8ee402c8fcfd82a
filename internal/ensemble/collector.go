package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ambrosia-alliance/processor/internal/cache"
	"github.com/ambrosia-alliance/processor/internal/llm"
	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/worker"
)

// ErrScoreOutOfRange is returned for scores outside [0,1] or NaN
var ErrScoreOutOfRange = errors.New("ensemble: score out of range")

const collectMaxAttempts = 2

// collectSleepFunc is the sleep function used between retries (injectable for tests)
var collectSleepFunc = time.Sleep

// Collector fans one text unit out to every ensemble member and joins the votes
type Collector struct {
	members        []llm.Scorer
	categories     *model.CategorySet
	labelThreshold float64
	workers        int
	limiter        *worker.Limiter
	limiterKeys    map[string]string
	cache          *cache.ScoreCache
	recorder       Recorder
	logger         *slog.Logger
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithWorkers bounds how many members are scored concurrently
func WithWorkers(n int) CollectorOption {
	return func(c *Collector) { c.workers = n }
}

// WithLimiter paces member calls. keys maps member name to limiter bucket;
// members without an entry use their own name.
func WithLimiter(l *worker.Limiter, keys map[string]string) CollectorOption {
	return func(c *Collector) {
		c.limiter = l
		c.limiterKeys = keys
	}
}

// WithScoreCache serves repeated (member, text) scoring from cache
func WithScoreCache(sc *cache.ScoreCache) CollectorOption {
	return func(c *Collector) { c.cache = sc }
}

// WithRecorder reports member outcomes to telemetry
func WithRecorder(r Recorder) CollectorOption {
	return func(c *Collector) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithCollectorLogger overrides the component logger
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// NewCollector creates a collector over the given members. Member names must be unique.
func NewCollector(members []llm.Scorer, categories *model.CategorySet, labelThreshold float64, opts ...CollectorOption) (*Collector, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble: no members configured")
	}
	if categories == nil || categories.Len() == 0 {
		return nil, model.ErrInvalidCategorySet
	}

	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m.Name()] {
			return nil, fmt.Errorf("ensemble: duplicate member %q", m.Name())
		}
		seen[m.Name()] = true
	}

	c := &Collector{
		members:        members,
		categories:     categories,
		labelThreshold: labelThreshold,
		workers:        len(members),
		recorder:       nopRecorder{},
		logger:         slog.Default().With("component", "collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Members returns the configured member names in order
func (c *Collector) Members() []string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.Name()
	}
	return names
}

// Collect scores the unit with every member and returns the joined vote set.
// A failing member is recorded in Failures and contributes no votes.
func (c *Collector) Collect(ctx context.Context, unit model.TextUnit) model.VoteSet {
	votes := model.VoteSet{
		Members:  c.Members(),
		Scores:   make(map[string]map[model.Category]float64),
		Votes:    make(map[string][]model.Category),
		Failures: make(map[string]string),
	}

	pool := worker.NewPool(ctx, c.workers)
	pool.Start()

	for _, m := range c.members {
		job := &memberJob{collector: c, member: m, unit: unit}
		if !pool.Submit(job) {
			votes.Failures[m.Name()] = "not dispatched"
		}
	}

	for _, r := range pool.Wait() {
		res := r.(*memberResult)
		if res.err != nil {
			votes.Failures[res.member] = res.err.Error()
			c.logger.WarnContext(ctx, "member failed", "member", res.member, "source", unit.Origin.Source, "index", unit.Origin.Index, "error", res.err)
			continue
		}
		votes.Scores[res.member] = res.scores
		votes.Votes[res.member] = c.threshold(res.scores)
	}

	// Members that never produced a result (pool cancelled mid-flight) are failures too.
	for _, name := range votes.Members {
		if _, ok := votes.Scores[name]; ok {
			continue
		}
		if _, ok := votes.Failures[name]; !ok {
			votes.Failures[name] = "no response"
		}
	}

	return votes
}

// threshold returns the categories a member votes for, in canonical order
func (c *Collector) threshold(scores map[model.Category]float64) []model.Category {
	out := []model.Category{}
	for _, cat := range c.categories.All() {
		if scores[cat] >= c.labelThreshold {
			out = append(out, cat)
		}
	}
	return out
}

// score calls one member, consulting the cache and retrying transient failures
func (c *Collector) score(ctx context.Context, m llm.Scorer, unit model.TextUnit) (map[model.Category]float64, error) {
	cats := c.categories.All()
	if cached, ok := c.cache.Get(m.Name(), cats, unit.Text); ok {
		c.logger.DebugContext(ctx, "score cache hit", "member", m.Name())
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt < collectMaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.limiterKey(m.Name())); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		resp, err := m.Score(ctx, llm.ScoreRequest{Text: unit.Text, Categories: cats})
		if err == nil {
			scores, verr := c.validate(resp.Scores)
			if verr != nil {
				return nil, verr
			}
			if cerr := c.cache.Set(m.Name(), cats, unit.Text, scores); cerr != nil {
				c.logger.DebugContext(ctx, "score cache write failed", "member", m.Name(), "error", cerr)
			}
			return scores, nil
		}

		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < collectMaxAttempts-1 {
			collectSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return nil, lastErr
}

func (c *Collector) limiterKey(member string) string {
	if key, ok := c.limiterKeys[member]; ok && key != "" {
		return key
	}
	return member
}

// validate maps raw keys onto the category set. Unknown keys and out-of-range
// scores fail the whole response; missing categories score 0.
func (c *Collector) validate(raw map[string]float64) (map[model.Category]float64, error) {
	scores := make(map[model.Category]float64, c.categories.Len())
	for _, cat := range c.categories.All() {
		scores[cat] = 0
	}
	for key, v := range raw {
		cat, err := c.categories.Parse(key)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: %s=%v", ErrScoreOutOfRange, key, v)
		}
		scores[cat] = v
	}
	return scores, nil
}

// isRetryable returns true for errors that indicate transient failures
func isRetryable(err error) bool {
	if errors.Is(err, llm.ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "error (5") ||
		strings.Contains(s, "status code: 5")
}

type memberJob struct {
	collector *Collector
	member    llm.Scorer
	unit      model.TextUnit
}

func (j *memberJob) Execute(ctx context.Context) worker.Result {
	start := time.Now()
	scores, err := j.collector.score(ctx, j.member, j.unit)
	j.collector.recorder.MemberScored(ctx, j.member.Name(), time.Since(start), err)
	return &memberResult{member: j.member.Name(), scores: scores, err: err}
}

type memberResult struct {
	member string
	scores map[model.Category]float64
	err    error
}

func (r *memberResult) GetError() error {
	return r.err
}
