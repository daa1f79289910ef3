package health

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

var (
	ethAddr  = common.HexToAddress("0x01")
	usdcAddr = common.HexToAddress("0x02")
)

// fakeQuotes serves fixed prices; symbols absent from the map count as
// missing or stale.
type fakeQuotes map[string]decimal.Decimal

func (f fakeQuotes) Fresh(symbol string, _ time.Time) (domain.PriceQuote, bool) {
	p, ok := f[symbol]
	if !ok {
		return domain.PriceQuote{}, false
	}
	return domain.PriceQuote{Symbol: symbol, Price: p, ObservedAt: time.Now()}, true
}

func testAssets() AssetTable {
	return AssetTable{
		ethAddr: {
			Symbol:               "eth",
			Decimals:             6,
			LiquidationThreshold: decimal.RequireFromString("0.8"),
		},
		usdcAddr: {
			Symbol:               "usdc",
			Decimals:             6,
			LiquidationThreshold: decimal.RequireFromString("0.9"),
		},
	}
}

func testParams() Params {
	return Params{
		OverheadFactor:      decimal.RequireFromString("1.01"),
		LiquidationDiscount: decimal.RequireFromString("0.05"),
	}
}

// testPosition returns a position holding coll ETH against debt USDC, amounts
// in whole tokens.
func testPosition(owner byte, coll, debt int64) *domain.Position {
	return &domain.Position{
		PoolID:           common.HexToHash("0x11"),
		CollateralAsset:  ethAddr,
		DebtAsset:        usdcAddr,
		Owner:            common.Address{owner},
		CollateralAmount: big.NewInt(coll * 1_000_000),
		DebtAmount:       big.NewInt(debt * 1_000_000),
		AccruedInterest:  big.NewInt(0),
	}
}

func TestFactorFormula(t *testing.T) {
	assets := testAssets()
	pos := testPosition(1, 100, 150)

	// 100 * $2.00 * 0.8 / (150 * $1.00) = 1.0667
	hf, ok := Factor(pos, assets[ethAddr], assets[usdcAddr],
		decimal.NewFromInt(2), decimal.NewFromInt(1))
	require.True(t, ok)
	require.Equal(t, "1.0667", hf.Round(4).String())
}

func TestFactorUndefinedOnZeroDebt(t *testing.T) {
	assets := testAssets()
	pos := testPosition(1, 100, 0)

	_, ok := Factor(pos, assets[ethAddr], assets[usdcAddr],
		decimal.NewFromInt(2), decimal.NewFromInt(1))
	require.False(t, ok)
}

func TestEvaluateBoundaryIsStrict(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.NewFromInt(2), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())

	// 100 * 2 * 0.8 / 160 = exactly 1.0: not liquidable.
	_, ok := e.Evaluate(testPosition(1, 100, 160), time.Now())
	require.False(t, ok, "health factor of exactly 1.0 must not be a candidate")

	// A hair more debt pushes the factor strictly below one.
	pos := testPosition(1, 100, 160)
	pos.DebtAmount.Add(pos.DebtAmount, big.NewInt(200)) // +0.0002 tokens
	cand, ok := e.Evaluate(pos, time.Now())
	require.True(t, ok, "health factor of 0.999999 must be a candidate")
	require.True(t, cand.HealthFactor.LessThan(decimal.NewFromInt(1)))
}

func TestEvaluateSkipsMissingQuote(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.NewFromInt(2)} // no usdc quote
	e := NewEvaluator(testAssets(), quotes, testParams())

	_, ok := e.Evaluate(testPosition(1, 100, 500), time.Now())
	require.False(t, ok, "a position with a missing quote is unknown, never liquidable")
}

func TestEvaluateSkipsUntrackedAsset(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.NewFromInt(2), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())

	pos := testPosition(1, 100, 500)
	pos.DebtAsset = common.HexToAddress("0xff")
	_, ok := e.Evaluate(pos, time.Now())
	require.False(t, ok)
}

func TestEvaluateSkipsClosedPosition(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.NewFromInt(2), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())

	_, ok := e.Evaluate(testPosition(1, 0, 0), time.Now())
	require.False(t, ok)
}

func TestPriceDropCreatesCandidate(t *testing.T) {
	pos := testPosition(1, 100, 150)

	quotes := fakeQuotes{"eth": decimal.NewFromInt(2), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())
	_, ok := e.Evaluate(pos, time.Now())
	require.False(t, ok, "healthy at $2.00")

	quotes["eth"] = decimal.RequireFromString("1.70")
	cand, ok := e.Evaluate(pos, time.Now())
	require.True(t, ok, "under water at $1.70")
	require.Equal(t, "0.9067", cand.HealthFactor.Round(4).String())

	// Gap is 150 - 136 = $14, padded to $14.14 of debt at $1.00.
	require.Equal(t, int64(14_140_000), cand.RepayAmount.Int64())
	// Seize $14.847 worth of collateral at $1.70.
	require.Equal(t, int64(8_733_529), cand.MinCollateral.Int64())
	require.True(t, cand.EstimatedProfit.GreaterThan(decimal.Zero))

	// The candidate records the balances it was sized from.
	require.Equal(t, pos.CollateralAmount, cand.EvaluatedCollateral)
	require.Equal(t, pos.DebtAmount, cand.EvaluatedDebt)
}

func TestRepayCappedAtOutstandingDebt(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.RequireFromString("0.01"), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())

	pos := testPosition(1, 100, 150) // collateral now worth $1 against $150 debt
	cand, ok := e.Evaluate(pos, time.Now())
	require.True(t, ok)
	require.Equal(t, pos.DebtAmount, cand.RepayAmount)
}

func TestSweepOrdersByDescendingProfit(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.RequireFromString("1.70"), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())

	// Same shape, scaled: bigger positions yield proportionally bigger profit.
	positions := map[domain.PositionID]*domain.Position{}
	for i, scale := range []int64{2, 10, 1} {
		pos := testPosition(byte(i+1), 100*scale, 150*scale)
		positions[pos.ID()] = pos
	}

	sweep := e.Sweep(positions, time.Now())
	require.Len(t, sweep.Candidates, 3)
	for i := 1; i < len(sweep.Candidates); i++ {
		require.True(t,
			sweep.Candidates[i-1].EstimatedProfit.GreaterThanOrEqual(sweep.Candidates[i].EstimatedProfit),
			"candidates must be ordered by descending estimated profit")
	}
	require.Equal(t, testPosition(2, 0, 0).ID(), sweep.Candidates[0].PositionID,
		"largest position pays the most and goes first")
}

func TestSweepListsUnknownOnMissingQuote(t *testing.T) {
	quotes := fakeQuotes{"usdc": decimal.NewFromInt(1)} // no eth quote
	e := NewEvaluator(testAssets(), quotes, testParams())

	pos := testPosition(1, 100, 500)
	sweep := e.Sweep(map[domain.PositionID]*domain.Position{pos.ID(): pos}, time.Now())

	require.Empty(t, sweep.Candidates)
	require.Equal(t, []domain.PositionID{pos.ID()}, sweep.Unknown,
		"an unjudgeable position is unknown, not recovered")
}

func TestSweepUnknownExcludesHealthyAndClosed(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.NewFromInt(2), "usdc": decimal.NewFromInt(1)}
	e := NewEvaluator(testAssets(), quotes, testParams())

	healthy := testPosition(1, 100, 150)
	closed := testPosition(2, 0, 0)
	sweep := e.Sweep(map[domain.PositionID]*domain.Position{
		healthy.ID(): healthy,
		closed.ID():  closed,
	}, time.Now())

	require.Empty(t, sweep.Candidates)
	require.Empty(t, sweep.Unknown, "judged positions never appear as unknown")
}

func TestMinProfitFilter(t *testing.T) {
	quotes := fakeQuotes{"eth": decimal.RequireFromString("1.70"), "usdc": decimal.NewFromInt(1)}
	params := testParams()
	params.MinProfitUSD = decimal.NewFromInt(1000)
	e := NewEvaluator(testAssets(), quotes, params)

	_, ok := e.Evaluate(testPosition(1, 100, 150), time.Now())
	require.False(t, ok, "profit below the floor must be filtered")
}
