// Package health turns registry snapshots and oracle quotes into ordered
// liquidation candidates. Everything here is pure computation: no I/O, no
// mutation of shared state.
package health

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

var one = decimal.NewFromInt(1)

// Asset is the evaluation metadata for one tracked asset.
type Asset struct {
	Symbol   string
	Decimals int32
	// LiquidationThreshold is the protocol's threshold factor applied to the
	// collateral value when this asset collateralizes a position.
	LiquidationThreshold decimal.Decimal
}

// AssetTable maps on-chain asset addresses to evaluation metadata. Positions
// referencing an untracked asset are excluded from evaluation.
type AssetTable map[common.Address]Asset

// QuoteSource is the read side of the price cache: the freshest usable quote
// per symbol, or nothing when the quote is missing or stale.
type QuoteSource interface {
	Fresh(symbol string, now time.Time) (domain.PriceQuote, bool)
}

// Params tune candidate construction.
type Params struct {
	// OverheadFactor pads the repay amount slightly above the exact
	// under-collateralization gap so the position lands safely back over the
	// threshold.
	OverheadFactor decimal.Decimal
	// LiquidationDiscount is the bonus fraction of collateral the protocol
	// grants liquidators over the repaid value.
	LiquidationDiscount decimal.Decimal
	// ExecutionCostUSD is the estimated cost of one liquidation transaction.
	ExecutionCostUSD decimal.Decimal
	// MinProfitUSD filters out candidates not worth executing.
	MinProfitUSD decimal.Decimal
}

// Evaluator computes health factors and builds candidate sweeps.
type Evaluator struct {
	assets AssetTable
	quotes QuoteSource
	params Params
}

// NewEvaluator creates an Evaluator over the given asset table and quotes.
func NewEvaluator(assets AssetTable, quotes QuoteSource, params Params) *Evaluator {
	return &Evaluator{assets: assets, quotes: quotes, params: params}
}

// scaledValue converts a raw token amount into its USD value.
func scaledValue(amount *big.Int, decimals int32, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -decimals).Mul(price)
}

// Factor computes the health factor for one position:
//
//	(collateral × collateral price × liquidation threshold) / (debt × debt price)
//
// The second return is false when the factor is undefined (zero debt value).
func Factor(pos *domain.Position, collAsset, debtAsset Asset, collPrice, debtPrice decimal.Decimal) (decimal.Decimal, bool) {
	debtValue := scaledValue(pos.DebtAmount, debtAsset.Decimals, debtPrice)
	if debtValue.Sign() <= 0 {
		return decimal.Zero, false
	}
	collValue := scaledValue(pos.CollateralAmount, collAsset.Decimals, collPrice)
	return collValue.Mul(collAsset.LiquidationThreshold).Div(debtValue), true
}

// Evaluate judges a single position at the given time. It returns the
// candidate and true only when the position is strictly below a health factor
// of 1.0 with positive debt value and both required quotes are present and
// fresh. A missing or stale quote makes the position "unknown", never
// liquidable: a false liquidation is worse than a missed one.
func (e *Evaluator) Evaluate(pos *domain.Position, now time.Time) (domain.Candidate, bool) {
	if pos.Closed() || pos.DebtAmount.Sign() == 0 {
		return domain.Candidate{}, false
	}

	collAsset, ok := e.assets[pos.CollateralAsset]
	if !ok {
		return domain.Candidate{}, false
	}
	debtAsset, ok := e.assets[pos.DebtAsset]
	if !ok {
		return domain.Candidate{}, false
	}

	collQuote, ok := e.quotes.Fresh(collAsset.Symbol, now)
	if !ok {
		return domain.Candidate{}, false
	}
	debtQuote, ok := e.quotes.Fresh(debtAsset.Symbol, now)
	if !ok {
		return domain.Candidate{}, false
	}

	factor, ok := Factor(pos, collAsset, debtAsset, collQuote.Price, debtQuote.Price)
	if !ok || factor.GreaterThanOrEqual(one) {
		return domain.Candidate{}, false
	}

	repay := e.repayAmount(pos, collAsset, debtAsset, collQuote.Price, debtQuote.Price)
	if repay.Sign() <= 0 {
		return domain.Candidate{}, false
	}

	minCollateral := e.minCollateral(repay, collAsset, debtAsset, collQuote.Price, debtQuote.Price)
	profit := e.estimatedProfit(repay, minCollateral, collAsset, debtAsset, collQuote.Price, debtQuote.Price)
	if profit.LessThan(e.params.MinProfitUSD) {
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		PositionID:          pos.ID(),
		HealthFactor:        factor,
		RepayAmount:         repay,
		MinCollateral:       minCollateral,
		EvaluatedCollateral: new(big.Int).Set(pos.CollateralAmount),
		EvaluatedDebt:       new(big.Int).Set(pos.DebtAmount),
		EstimatedProfit:     profit,
	}, true
}

// Sweep evaluates every position in the snapshot and returns the candidates
// ordered by descending estimated profit, so limited execution throughput is
// spent on the most valuable opportunities first. Positions that could not be
// judged for lack of a fresh quote are listed as Unknown rather than silently
// dropped, so downstream consumers can tell them apart from recoveries.
func (e *Evaluator) Sweep(positions map[domain.PositionID]*domain.Position, now time.Time) domain.Sweep {
	sweep := domain.Sweep{At: now.Unix()}
	for id, pos := range positions {
		if cand, ok := e.Evaluate(pos, now); ok {
			sweep.Candidates = append(sweep.Candidates, cand)
			continue
		}
		if e.quotesUnknown(pos, now) {
			sweep.Unknown = append(sweep.Unknown, id)
		}
	}

	sort.SliceStable(sweep.Candidates, func(i, j int) bool {
		return sweep.Candidates[i].EstimatedProfit.GreaterThan(sweep.Candidates[j].EstimatedProfit)
	})
	return sweep
}

// quotesUnknown reports whether an open position with debt could not be
// judged because a required quote is missing or stale.
func (e *Evaluator) quotesUnknown(pos *domain.Position, now time.Time) bool {
	if pos.Closed() || pos.DebtAmount.Sign() == 0 {
		return false
	}
	collAsset, ok := e.assets[pos.CollateralAsset]
	if !ok {
		return false
	}
	debtAsset, ok := e.assets[pos.DebtAsset]
	if !ok {
		return false
	}
	if _, ok := e.quotes.Fresh(collAsset.Symbol, now); !ok {
		return true
	}
	if _, ok := e.quotes.Fresh(debtAsset.Symbol, now); !ok {
		return true
	}
	return false
}

// repayAmount computes the debt to repay, in raw debt units: the value gap
// between current debt and the maximum supportable debt, padded by the
// overhead factor and capped at the outstanding debt.
func (e *Evaluator) repayAmount(pos *domain.Position, collAsset, debtAsset Asset, collPrice, debtPrice decimal.Decimal) *big.Int {
	debtValue := scaledValue(pos.DebtAmount, debtAsset.Decimals, debtPrice)
	maxDebtValue := scaledValue(pos.CollateralAmount, collAsset.Decimals, collPrice).
		Mul(collAsset.LiquidationThreshold)

	gap := debtValue.Sub(maxDebtValue).Mul(e.params.OverheadFactor)
	if gap.Sign() <= 0 {
		return new(big.Int)
	}

	raw := gap.Div(debtPrice).Shift(debtAsset.Decimals).Floor().BigInt()
	if raw.Cmp(pos.DebtAmount) > 0 {
		raw = new(big.Int).Set(pos.DebtAmount)
	}
	return raw
}

// minCollateral converts the repaid value plus the liquidation discount into
// the minimum collateral units to receive.
func (e *Evaluator) minCollateral(repay *big.Int, collAsset, debtAsset Asset, collPrice, debtPrice decimal.Decimal) *big.Int {
	repayValue := scaledValue(repay, debtAsset.Decimals, debtPrice)
	seizeValue := repayValue.Mul(one.Add(e.params.LiquidationDiscount))
	return seizeValue.Div(collPrice).Shift(collAsset.Decimals).Floor().BigInt()
}

// estimatedProfit is seized collateral value minus repaid debt value minus the
// configured execution cost.
func (e *Evaluator) estimatedProfit(repay, minCollateral *big.Int, collAsset, debtAsset Asset, collPrice, debtPrice decimal.Decimal) decimal.Decimal {
	repayValue := scaledValue(repay, debtAsset.Decimals, debtPrice)
	seizeValue := scaledValue(minCollateral, collAsset.Decimals, collPrice)
	return seizeValue.Sub(repayValue).Sub(e.params.ExecutionCostUSD)
}
