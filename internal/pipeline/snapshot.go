package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
	"github.com/astraly-labs/vesu-liquidator/internal/registry"
)

// SnapshotWriter persists the registry on an interval and once more on
// shutdown. When an archiver is configured the same snapshot also goes to
// cold storage, on a coarser cadence.
type SnapshotWriter struct {
	registry *registry.Registry
	store    domain.StateStore
	archiver domain.Archiver // optional
	interval time.Duration
	// archiveEvery counts save cycles between uploads.
	archiveEvery int
	logger       *slog.Logger
}

// NewSnapshotWriter creates a SnapshotWriter. archiver may be nil.
func NewSnapshotWriter(reg *registry.Registry, store domain.StateStore, archiver domain.Archiver, interval time.Duration, archiveEvery int, logger *slog.Logger) *SnapshotWriter {
	if archiveEvery <= 0 {
		archiveEvery = 10
	}
	return &SnapshotWriter{
		registry:     reg,
		store:        store,
		archiver:     archiver,
		interval:     interval,
		archiveEvery: archiveEvery,
		logger:       logger.With(slog.String("component", "snapshot")),
	}
}

// Run saves on every tick and performs a final save when ctx is cancelled.
// The final save uses a detached context so shutdown still persists the
// latest cursor.
func (w *SnapshotWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := w.save(saveCtx, true); err != nil {
				return fmt.Errorf("pipeline: final snapshot: %w", err)
			}
			return nil
		case <-ticker.C:
			cycles++
			archive := w.archiver != nil && cycles%w.archiveEvery == 0
			if err := w.save(ctx, archive); err != nil {
				// Persistence failures are retried on the next tick; the
				// registry itself is intact.
				w.logger.Error("snapshot save failed", slog.Any("error", err))
			}
		}
	}
}

func (w *SnapshotWriter) save(ctx context.Context, archive bool) error {
	state := w.registry.ExportState()
	if err := w.store.Save(ctx, state); err != nil {
		return err
	}
	w.logger.Debug("state persisted",
		slog.Uint64("height", state.Cursor.Height),
		slog.Int("positions", len(state.Positions)))

	if archive && w.archiver != nil {
		payload, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := w.archiver.ArchiveSnapshot(ctx, time.Now(), payload); err != nil {
			w.logger.Warn("snapshot archive failed", slog.Any("error", err))
		}
	}
	return nil
}
