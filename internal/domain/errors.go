package domain

import "errors"

var (
	// ErrNotFound is returned by lookups for unknown keys.
	ErrNotFound = errors.New("not found")
	// ErrMalformedEvent marks a data error in a single decoded item; the item
	// is dropped with a warning and processing continues.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrStaleQuote marks a price quote older than the staleness threshold.
	ErrStaleQuote = errors.New("stale quote")
	// ErrCorruptState marks an invariant violation (e.g. a negative decoded
	// balance). Acting on corrupt state risks an incorrect liquidation, so the
	// process must exit rather than continue.
	ErrCorruptState = errors.New("corrupt state")
	// ErrRollbackUnavailable is returned when a reorg demands a rollback to a
	// height the local checkpoint log no longer covers. Fatal.
	ErrRollbackUnavailable = errors.New("rollback target unavailable")
	// ErrStreamDisconnect marks a transient stream failure, recovered by
	// reconnecting from the last acknowledged cursor.
	ErrStreamDisconnect = errors.New("stream disconnected")
	// ErrLockHeld is returned when another instance holds a submission lock.
	ErrLockHeld = errors.New("lock already held")
)
