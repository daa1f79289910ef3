package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
	"github.com/astraly-labs/vesu-liquidator/internal/health"
	"github.com/astraly-labs/vesu-liquidator/internal/metrics"
	"github.com/astraly-labs/vesu-liquidator/internal/registry"
)

// Sweeper evaluates the whole registry on a fixed interval and hands each
// sweep to the executor. Empty sweeps are delivered too; the executor uses
// them to detect positions that recovered above water.
type Sweeper struct {
	registry  *registry.Registry
	evaluator *health.Evaluator
	interval  time.Duration
	out       chan domain.Sweep
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(reg *registry.Registry, eval *health.Evaluator, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		registry:  reg,
		evaluator: eval,
		interval:  interval,
		out:       make(chan domain.Sweep, 1),
		metrics:   metrics.Default(),
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Sweeps returns the channel sweeps are delivered on. It is closed when Run
// returns.
func (s *Sweeper) Sweeps() <-chan domain.Sweep {
	return s.out
}

// Run ticks until ctx is cancelled. Delivery blocks until the executor has
// room; ticks firing meanwhile are absorbed by the ticker, so stale sweeps
// never stack up behind a slow executor.
func (s *Sweeper) Run(ctx context.Context) error {
	defer close(s.out)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sweep := s.evaluator.Sweep(s.registry.Snapshot(), time.Now())
		if n := len(sweep.Candidates); n > 0 {
			s.metrics.Candidates.Add(float64(n))
			s.logger.Info("sweep produced candidates", slog.Int("count", n))
		}

		select {
		case s.out <- sweep:
		case <-ctx.Done():
			return nil
		}
	}
}
