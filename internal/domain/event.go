package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind is the closed set of protocol events that mutate a position.
type EventKind uint8

const (
	EventOpen EventKind = iota
	EventDeposit
	EventWithdraw
	EventBorrow
	EventRepay
	EventLiquidate
)

var eventKindNames = map[EventKind]string{
	EventOpen:      "open",
	EventDeposit:   "deposit",
	EventWithdraw:  "withdraw",
	EventBorrow:    "borrow",
	EventRepay:     "repay",
	EventLiquidate: "liquidate",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseEventKind maps a wire-level kind string onto the closed enum. Unknown
// kinds are data errors: the offending event is dropped, not the stream.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: event kind %q", ErrMalformedEvent, s)
}

// PositionEvent is one decoded protocol event. CollateralAmount and DebtAmount
// are the absolute resulting balances after the event was applied on chain,
// not deltas; the registry overwrites position state with them, which keeps
// application idempotent under at-least-once delivery.
type PositionEvent struct {
	Kind EventKind

	PoolID          common.Hash
	CollateralAsset common.Address
	DebtAsset       common.Address
	Owner           common.Address

	CollateralAmount *big.Int
	DebtAmount       *big.Int
	AccruedInterest  *big.Int

	BlockHeight uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint
}

// PositionID returns the registry key this event applies to.
func (e *PositionEvent) PositionID() PositionID {
	return ComputePositionID(e.PoolID, e.CollateralAsset, e.DebtAsset, e.Owner)
}

// Validate enforces the balance invariant. A negative decoded balance means the
// local view of chain state is corrupt; callers must treat this as fatal.
func (e *PositionEvent) Validate() error {
	if e.CollateralAmount == nil || e.DebtAmount == nil {
		return fmt.Errorf("%w: nil balance in %s event at block %d", ErrMalformedEvent, e.Kind, e.BlockHeight)
	}
	if e.CollateralAmount.Sign() < 0 || e.DebtAmount.Sign() < 0 {
		return fmt.Errorf("%w: negative balance in %s event at block %d", ErrCorruptState, e.Kind, e.BlockHeight)
	}
	return nil
}

// BlockBatch groups the decoded events of one block together with its
// finality marker.
type BlockBatch struct {
	Height    uint64
	Hash      common.Hash
	Finalized bool
	Events    []PositionEvent
}

// StreamMessageType discriminates messages coming out of the stream client.
type StreamMessageType uint8

const (
	// StreamData carries a block batch.
	StreamData StreamMessageType = iota
	// StreamInvalidate signals a chain reorganization: every block at or above
	// FromHeight must be considered replaced.
	StreamInvalidate
	// StreamHeartbeat is a keepalive with no payload.
	StreamHeartbeat
)

// StreamMessage is the tagged union delivered by the event stream client.
type StreamMessage struct {
	Type       StreamMessageType
	Batch      *BlockBatch
	FromHeight uint64
}
