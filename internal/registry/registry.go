// Package registry implements the concurrent position store. It is the single
// owner of all Position state: ingestion writes through Apply, every other
// component reads through snapshots, and execution outcomes only ever come
// back in through newly observed chain events.
package registry

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// Registry maps position identity to current state, guarded by a single
// RWMutex. Writes are serialized; reads observe fully-applied state only.
// A bounded ring of block-aligned checkpoints supports rollback-then-replay
// on chain reorganizations.
type Registry struct {
	mu        sync.RWMutex
	positions map[domain.PositionID]*domain.Position
	cursor    domain.Checkpoint

	checkpointEvery uint64
	checkpoints     []checkpointEntry // oldest first, bounded by depth
	depth           int

	logger *slog.Logger
}

type checkpointEntry struct {
	cursor    domain.Checkpoint
	positions map[domain.PositionID]*domain.Position
}

// New creates an empty Registry. A checkpoint is recorded every
// checkpointEvery blocks and at most depth checkpoints are retained; a reorg
// deeper than the retained history is unrecoverable locally and fatal.
// Out-of-range parameters are clamped to the smallest usable values.
func New(checkpointEvery uint64, depth int, logger *slog.Logger) *Registry {
	if checkpointEvery == 0 {
		checkpointEvery = 1
	}
	if depth <= 0 {
		depth = 1
	}
	return &Registry{
		positions:       make(map[domain.PositionID]*domain.Position),
		checkpointEvery: checkpointEvery,
		depth:           depth,
		logger:          logger.With(slog.String("component", "registry")),
	}
}

// Seed replaces the registry contents with a previously persisted state.
// Called once at startup, before live ingestion begins.
func (r *Registry) Seed(state *domain.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.positions = make(map[domain.PositionID]*domain.Position, len(state.Positions))
	for id, p := range state.Positions {
		r.positions[id] = p.Clone()
	}
	r.cursor = state.Cursor
	r.checkpoints = r.checkpoints[:0]
	r.snapshotLocked(state.Cursor)

	r.logger.Info("registry seeded",
		slog.Int("positions", len(r.positions)),
		slog.Uint64("height", state.Cursor.Height),
	)
}

// Apply updates one position with the absolute balances carried by the event.
// Re-applying a duplicate event overwrites identical values, so delivery only
// needs to be at-least-once. A negative decoded balance is an invariant
// violation and surfaces as domain.ErrCorruptState.
func (r *Registry) Apply(ev *domain.PositionEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("registry: apply: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := ev.PositionID()
	pos, ok := r.positions[id]
	if !ok {
		pos = &domain.Position{
			PoolID:          ev.PoolID,
			CollateralAsset: ev.CollateralAsset,
			DebtAsset:       ev.DebtAsset,
			Owner:           ev.Owner,
		}
		r.positions[id] = pos
	}

	pos.CollateralAmount = new(big.Int).Set(ev.CollateralAmount)
	pos.DebtAmount = new(big.Int).Set(ev.DebtAmount)
	if ev.AccruedInterest != nil {
		pos.AccruedInterest = new(big.Int).Set(ev.AccruedInterest)
	} else if pos.AccruedInterest == nil {
		pos.AccruedInterest = new(big.Int)
	}
	if ev.BlockHeight > pos.UpdatedBlock {
		pos.UpdatedBlock = ev.BlockHeight
	}
	return nil
}

// Get returns a copy of one position, or domain.ErrNotFound.
func (r *Registry) Get(id domain.PositionID) (*domain.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[id]
	if !ok {
		return nil, fmt.Errorf("registry: %w: %s", domain.ErrNotFound, id)
	}
	return pos.Clone(), nil
}

// Snapshot returns a deep copy of every position. Callers can iterate without
// holding any registry lock.
func (r *Registry) Snapshot() map[domain.PositionID]*domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.PositionID]*domain.Position, len(r.positions))
	for id, p := range r.positions {
		out[id] = p.Clone()
	}
	return out
}

// Len returns the number of tracked positions, closed ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Cursor returns the last durably applied block.
func (r *Registry) Cursor() domain.Checkpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

// Advance records that every event of the given block has been applied. It
// moves the cursor forward and, on checkpoint-aligned heights, records a
// rollback point.
func (r *Registry) Advance(height uint64, hash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := domain.Checkpoint{Height: height, Hash: hash}
	r.cursor = cur
	if height%r.checkpointEvery == 0 {
		r.snapshotLocked(cur)
	}
}

// snapshotLocked appends a checkpoint entry and trims the ring to depth.
// Caller holds the write lock.
func (r *Registry) snapshotLocked(cur domain.Checkpoint) {
	entry := checkpointEntry{
		cursor:    cur,
		positions: make(map[domain.PositionID]*domain.Position, len(r.positions)),
	}
	for id, p := range r.positions {
		entry.positions[id] = p.Clone()
	}
	r.checkpoints = append(r.checkpoints, entry)
	if len(r.checkpoints) > r.depth {
		r.checkpoints = r.checkpoints[len(r.checkpoints)-r.depth:]
	}
}

// RollbackTo restores the newest checkpoint at or below height and returns its
// cursor, from which ingestion must resynchronize. When the checkpoint log no
// longer covers the requested height the reorg cannot be recovered locally and
// domain.ErrRollbackUnavailable is returned; continuing would mean acting on
// replaced history.
func (r *Registry) RollbackTo(height uint64) (domain.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.checkpoints) - 1; i >= 0; i-- {
		entry := r.checkpoints[i]
		if entry.cursor.Height > height {
			continue
		}

		r.positions = make(map[domain.PositionID]*domain.Position, len(entry.positions))
		for id, p := range entry.positions {
			r.positions[id] = p.Clone()
		}
		r.cursor = entry.cursor
		r.checkpoints = r.checkpoints[:i+1]

		r.logger.Warn("registry rolled back",
			slog.Uint64("requested_height", height),
			slog.Uint64("restored_height", entry.cursor.Height),
		)
		return entry.cursor, nil
	}

	return domain.Checkpoint{}, fmt.Errorf(
		"registry: %w: no checkpoint at or below height %d", domain.ErrRollbackUnavailable, height)
}

// ExportState returns a persistable copy of the cursor plus all positions.
func (r *Registry) ExportState() *domain.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := &domain.State{
		Cursor:    r.cursor,
		Positions: make(map[domain.PositionID]*domain.Position, len(r.positions)),
	}
	for id, p := range r.positions {
		state.Positions[id] = p.Clone()
	}
	return state
}
