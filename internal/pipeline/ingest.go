// Package pipeline wires the stream, registry, oracle, evaluator and executor
// together and runs them as one supervised group.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
	"github.com/astraly-labs/vesu-liquidator/internal/metrics"
	"github.com/astraly-labs/vesu-liquidator/internal/registry"
	"github.com/astraly-labs/vesu-liquidator/internal/stream"
)

// EventStream is the ingestor's view of the stream client: decoded messages
// plus cursor acknowledgement and rewind.
type EventStream interface {
	Messages() <-chan domain.StreamMessage
	Ack(cp domain.Checkpoint)
	Rewind(cp domain.Checkpoint)
}

var _ EventStream = (*stream.Client)(nil)

// Ingestor applies stream messages to the registry. It acknowledges a block
// only after every event in it has been applied, so a crash between blocks
// replays rather than skips.
type Ingestor struct {
	stream   EventStream
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(sc EventStream, reg *registry.Registry, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		stream:   sc,
		registry: reg,
		metrics:  metrics.Default(),
		logger:   logger.With(slog.String("component", "ingest")),
	}
}

// Run consumes messages until ctx is cancelled or the stream channel closes.
// Corrupt state and an unservable rollback are fatal: continuing would act on
// a position view known to be wrong.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in.stream.Messages():
			if !ok {
				return nil
			}
			var err error
			switch msg.Type {
			case domain.StreamData:
				err = in.applyBatch(msg.Batch)
			case domain.StreamInvalidate:
				err = in.invalidate(msg.FromHeight)
			}
			if err != nil {
				return err
			}
		}
	}
}

func (in *Ingestor) applyBatch(batch *domain.BlockBatch) error {
	for i := range batch.Events {
		ev := &batch.Events[i]
		if err := in.registry.Apply(ev); err != nil {
			if errors.Is(err, domain.ErrCorruptState) {
				return fmt.Errorf("pipeline: apply event at block %d: %w", batch.Height, err)
			}
			in.metrics.EventsDropped.Inc()
			in.logger.Warn("event dropped",
				slog.Uint64("height", batch.Height),
				slog.Any("error", err))
			continue
		}
		in.metrics.EventsApplied.Inc()
	}

	in.registry.Advance(batch.Height, batch.Hash)
	in.stream.Ack(domain.Checkpoint{Height: batch.Height, Hash: batch.Hash})

	in.metrics.CursorHeight.Set(float64(batch.Height))
	in.metrics.TrackedPositions.Set(float64(in.registry.Len()))
	return nil
}

// invalidate rolls the registry back below the reorg point and rewinds the
// stream cursor to the restored checkpoint, so the replaced blocks are
// replayed from the canonical chain.
func (in *Ingestor) invalidate(fromHeight uint64) error {
	in.metrics.Reorgs.Inc()
	in.logger.Warn("chain reorganization", slog.Uint64("from_height", fromHeight))

	target := uint64(0)
	if fromHeight > 0 {
		target = fromHeight - 1
	}
	cp, err := in.registry.RollbackTo(target)
	if err != nil {
		return fmt.Errorf("pipeline: rollback to %d: %w", target, err)
	}

	in.stream.Rewind(cp)
	in.metrics.CursorHeight.Set(float64(cp.Height))
	in.metrics.TrackedPositions.Set(float64(in.registry.Len()))
	return nil
}
