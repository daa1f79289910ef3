package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Candidate is a position the evaluator judged liquidable, together with the
// suggested execution parameters. Candidates are ephemeral: they are handed to
// the executor and never persisted.
type Candidate struct {
	PositionID   PositionID
	HealthFactor decimal.Decimal

	// RepayAmount is the debt to repay, in raw debt-asset units.
	RepayAmount *big.Int
	// MinCollateral is the minimum collateral to receive, in raw
	// collateral-asset units.
	MinCollateral *big.Int

	// EvaluatedCollateral and EvaluatedDebt are the balances the evaluation
	// was computed from. The executor re-checks them against the registry
	// right before submitting; a mismatch means a newer event landed and the
	// sized call no longer fits the position.
	EvaluatedCollateral *big.Int
	EvaluatedDebt       *big.Int

	// EstimatedProfit is the seized collateral value minus the repaid debt
	// value minus the estimated execution cost, in USD.
	EstimatedProfit decimal.Decimal
}

// Sweep is one full evaluation pass over the registry: every current candidate
// ordered by descending estimated profit. The executor uses membership to
// detect position recovery (episode reset), so an empty sweep is meaningful.
type Sweep struct {
	At         int64 // unix seconds of the evaluation
	Candidates []Candidate

	// Unknown lists open positions whose health could not be judged because a
	// required quote was missing or stale. They are neither liquidable nor
	// recovered, so their retry episodes stay open.
	Unknown []PositionID
}
