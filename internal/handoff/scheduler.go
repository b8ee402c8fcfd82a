package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Scheduler runs policy evaluation on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "*/15 * * * *".
type Scheduler struct {
	cron   *cron.Cron
	policy *Policy
	logger *slog.Logger
}

// NewScheduler parses the schedule. An empty schedule returns nil, nil.
func NewScheduler(schedule string, policy *Policy) (*Scheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid handoff schedule %q: %w", schedule, err)
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		policy: policy,
		logger: slog.Default().With("component", "handoff-scheduler"),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	evals, err := s.policy.EvaluateAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled policy evaluation failed", "error", err)
		return
	}
	promoted := 0
	for _, ev := range evals {
		if ev.Promoted {
			promoted++
		}
	}
	s.logger.InfoContext(ctx, "scheduled policy evaluation complete", "categories", len(evals), "promoted", promoted)
}

// Start begins scheduling in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("handoff evaluation scheduled", "next", e.Next)
	}
}

// Stop halts scheduling and waits for a running evaluation to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
