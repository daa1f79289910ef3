package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/astraly-labs/vesu-liquidator/internal/executor"
	"github.com/astraly-labs/vesu-liquidator/internal/metrics"
	"github.com/astraly-labs/vesu-liquidator/internal/oracle"
	"github.com/astraly-labs/vesu-liquidator/internal/stream"
)

// Orchestrator runs every long-lived component as a goroutine in one
// errgroup. Any component returning a non-context error cancels the shared
// context and brings the whole agent down; context cancellation alone is a
// clean shutdown.
type Orchestrator struct {
	stream    *stream.Client
	ingestor  *Ingestor
	refresher *oracle.Refresher
	sweeper   *Sweeper
	executor  *executor.Executor
	snapshots *SnapshotWriter

	metricsAddr string // empty disables the endpoint
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator over already-wired components.
func NewOrchestrator(
	sc *stream.Client,
	ingestor *Ingestor,
	refresher *oracle.Refresher,
	sweeper *Sweeper,
	exec *executor.Executor,
	snapshots *SnapshotWriter,
	metricsAddr string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		stream:      sc,
		ingestor:    ingestor,
		refresher:   refresher,
		sweeper:     sweeper,
		executor:    exec,
		snapshots:   snapshots,
		metricsAddr: metricsAddr,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Run blocks until ctx is cancelled or a component fails fatally.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.stream.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("stream: %w", err)
	})

	// Ingest errors are always fatal: they mean the registry can no longer be
	// trusted to reflect the chain.
	g.Go(func() error {
		if err := o.ingestor.Run(ctx); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := o.refresher.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		err := o.sweeper.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		err := o.executor.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		return o.snapshots.Run(ctx)
	})

	if o.metricsAddr != "" {
		g.Go(func() error {
			err := metrics.Serve(ctx, o.metricsAddr, o.logger)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
