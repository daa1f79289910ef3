// Package domain holds the core types shared by every component of the
// liquidator: positions, protocol events, price quotes, liquidation candidates,
// and the narrow interfaces implemented by the storage and cache backends.
package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PositionID uniquely identifies a borrowing position. It is the hex-encoded
// keccak256 hash of (pool id, collateral asset, debt asset, owner), so the same
// identity observed through any path maps to the same registry entry.
type PositionID string

// Position is the current state of one borrowing position as derived from
// observed chain events. Balances are absolute raw token units; events carry
// resulting balances which are overwritten, never incremented, so re-applying
// a duplicate event is a no-op.
type Position struct {
	PoolID          common.Hash    `json:"pool_id"`
	CollateralAsset common.Address `json:"collateral_asset"`
	DebtAsset       common.Address `json:"debt_asset"`
	Owner           common.Address `json:"owner"`

	CollateralAmount *big.Int `json:"collateral_amount"`
	DebtAmount       *big.Int `json:"debt_amount"`
	AccruedInterest  *big.Int `json:"accrued_interest"`
	UpdatedBlock     uint64   `json:"updated_block"`
}

// ComputePositionID derives the canonical identifier for a position identity.
func ComputePositionID(pool common.Hash, collateral, debt, owner common.Address) PositionID {
	h := crypto.Keccak256Hash(
		pool.Bytes(),
		common.LeftPadBytes(collateral.Bytes(), 32),
		common.LeftPadBytes(debt.Bytes(), 32),
		common.LeftPadBytes(owner.Bytes(), 32),
	)
	return PositionID(h.Hex())
}

// ID returns the canonical identifier for this position.
func (p *Position) ID() PositionID {
	return ComputePositionID(p.PoolID, p.CollateralAsset, p.DebtAsset, p.Owner)
}

// Closed reports whether both balances have reached zero. Closed positions are
// never liquidation candidates.
func (p *Position) Closed() bool {
	return p.CollateralAmount.Sign() == 0 && p.DebtAmount.Sign() == 0
}

// Clone returns a deep copy. Registry snapshots hand out clones so readers
// never observe a concurrent mutation.
func (p *Position) Clone() *Position {
	cp := *p
	cp.CollateralAmount = new(big.Int).Set(p.CollateralAmount)
	cp.DebtAmount = new(big.Int).Set(p.DebtAmount)
	cp.AccruedInterest = new(big.Int).Set(p.AccruedInterest)
	return &cp
}

func (p *Position) String() string {
	return fmt.Sprintf("position %s/%s of %s (pool %s)",
		p.CollateralAsset.Hex(), p.DebtAsset.Hex(), p.Owner.Hex(), p.PoolID.Hex())
}
