package domain

import (
	"context"
	"time"
)

// StateStore persists the checkpoint plus the full position registry. Loaded
// once at startup, written periodically and on graceful shutdown.
type StateStore interface {
	// Load returns the last persisted state, or an empty state when nothing
	// has been persisted yet.
	Load(ctx context.Context) (*State, error)
	// Save durably replaces the persisted state.
	Save(ctx context.Context, state *State) error
}

// SignalBus publishes liquidation lifecycle events for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// LockManager hands out distributed locks so that replicated liquidator
// instances do not race each other on the same position.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when the
	// lock is owned by another party.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Archiver uploads serialized state snapshots to cold storage.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, taken time.Time, payload []byte) error
}
