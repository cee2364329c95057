package retention

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"custodia/internal/platform/metrics"
	"custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// Target is a record store the scheduler can sweep. PurgeExpired must be
// idempotent; the scheduler retries failed passes on the next tick.
type Target interface {
	DataType() domain.DataType
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// Scheduler enforces retention on a recurring cadence. Each pass reads the
// current policy table, so policy changes apply from the next tick.
type Scheduler struct {
	policies  Store
	targets   []Target
	interval  time.Duration
	runBudget time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type SchedulerOption func(*Scheduler)

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(policies Store, targets []Target, interval, runBudget time.Duration, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		policies:  policies,
		targets:   targets,
		interval:  interval,
		runBudget: runBudget,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until the context is cancelled. Sweep failures are logged and
// retried on the next tick, never fatal to the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "retention scheduler started",
		"interval", s.interval.String(), "run_budget", s.runBudget.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "retention scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one enforcement pass over all targets concurrently, bounded by
// the run budget. Purges are attributed to the system actor.
func (s *Scheduler) Sweep(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.runBudget)
	defer cancel()
	ctx = requestcontext.WithActor(ctx, domain.System())

	g, ctx := errgroup.WithContext(ctx)
	for _, target := range s.targets {
		target := target
		g.Go(func() error {
			policy, err := s.policies.Get(ctx, target.DataType())
			if err != nil {
				return err
			}
			if policy.Indefinite() {
				return nil
			}
			cutoff := time.Now().AddDate(0, 0, -policy.MaxAgeDays)
			purged, err := target.PurgeExpired(ctx, cutoff)
			if err != nil {
				return err
			}
			if purged > 0 {
				s.logger.InfoContext(ctx, "retention purge completed",
					"data_type", target.DataType().String(), "purged", purged,
					"policy_version", policy.Version)
			}
			return nil
		})
	}

	err := g.Wait()
	s.metrics.ObserveSweep(time.Since(start))
	return err
}
