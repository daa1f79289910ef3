package registry

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(owner byte, coll, debt int64, height uint64) *domain.PositionEvent {
	return &domain.PositionEvent{
		Kind:             domain.EventDeposit,
		PoolID:           common.HexToHash("0x01"),
		CollateralAsset:  common.HexToAddress("0xaa"),
		DebtAsset:        common.HexToAddress("0xbb"),
		Owner:            common.Address{owner},
		CollateralAmount: big.NewInt(coll),
		DebtAmount:       big.NewInt(debt),
		AccruedInterest:  big.NewInt(0),
		BlockHeight:      height,
		BlockHash:        common.Hash{byte(height)},
	}
}

func TestApplyCreatesAndOverwrites(t *testing.T) {
	reg := New(10, 8, testLogger())

	ev := testEvent(1, 100, 50, 5)
	require.NoError(t, reg.Apply(ev))
	require.Equal(t, 1, reg.Len())

	pos, err := reg.Get(ev.PositionID())
	require.NoError(t, err)
	require.Equal(t, int64(100), pos.CollateralAmount.Int64())
	require.Equal(t, int64(50), pos.DebtAmount.Int64())

	// Balances are absolute, so a later event replaces them outright.
	require.NoError(t, reg.Apply(testEvent(1, 70, 80, 6)))
	pos, err = reg.Get(ev.PositionID())
	require.NoError(t, err)
	require.Equal(t, int64(70), pos.CollateralAmount.Int64())
	require.Equal(t, int64(80), pos.DebtAmount.Int64())
	require.Equal(t, uint64(6), pos.UpdatedBlock)
}

func TestApplyDuplicateEventIsIdempotent(t *testing.T) {
	reg := New(10, 8, testLogger())

	ev := testEvent(1, 100, 50, 5)
	require.NoError(t, reg.Apply(ev))
	before, err := reg.Get(ev.PositionID())
	require.NoError(t, err)

	require.NoError(t, reg.Apply(ev))
	after, err := reg.Get(ev.PositionID())
	require.NoError(t, err)

	require.Equal(t, before, after)
	require.Equal(t, 1, reg.Len())
}

func TestApplyNegativeBalanceIsCorruptState(t *testing.T) {
	reg := New(10, 8, testLogger())

	ev := testEvent(1, 100, 50, 5)
	ev.DebtAmount = big.NewInt(-1)
	err := reg.Apply(ev)
	require.ErrorIs(t, err, domain.ErrCorruptState)
	require.Equal(t, 0, reg.Len())
}

func TestApplyNilBalanceIsMalformed(t *testing.T) {
	reg := New(10, 8, testLogger())

	ev := testEvent(1, 100, 50, 5)
	ev.CollateralAmount = nil
	require.ErrorIs(t, reg.Apply(ev), domain.ErrMalformedEvent)
}

func TestGetUnknownPosition(t *testing.T) {
	reg := New(10, 8, testLogger())
	_, err := reg.Get(domain.PositionID("0xdeadbeef"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	reg := New(10, 8, testLogger())
	ev := testEvent(1, 100, 50, 5)
	require.NoError(t, reg.Apply(ev))

	snap := reg.Snapshot()
	snap[ev.PositionID()].CollateralAmount.SetInt64(999)

	pos, err := reg.Get(ev.PositionID())
	require.NoError(t, err)
	require.Equal(t, int64(100), pos.CollateralAmount.Int64())
}

func TestRollbackRestoresCheckpointState(t *testing.T) {
	reg := New(10, 8, testLogger())

	require.NoError(t, reg.Apply(testEvent(1, 100, 50, 10)))
	reg.Advance(10, common.Hash{10})

	// Mutations past the checkpoint are discarded by the rollback.
	require.NoError(t, reg.Apply(testEvent(1, 10, 200, 14)))
	require.NoError(t, reg.Apply(testEvent(2, 500, 100, 15)))
	reg.Advance(15, common.Hash{15})

	cp, err := reg.RollbackTo(14)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cp.Height)
	require.Equal(t, 1, reg.Len())

	pos, err := reg.Get(testEvent(1, 0, 0, 0).PositionID())
	require.NoError(t, err)
	require.Equal(t, int64(100), pos.CollateralAmount.Int64())
	require.Equal(t, int64(50), pos.DebtAmount.Int64())
	require.Equal(t, cp, reg.Cursor())
}

func TestRollbackThenReplayConverges(t *testing.T) {
	reg := New(10, 8, testLogger())

	require.NoError(t, reg.Apply(testEvent(1, 100, 50, 10)))
	reg.Advance(10, common.Hash{10})

	// Orphaned branch.
	require.NoError(t, reg.Apply(testEvent(1, 10, 200, 14)))
	reg.Advance(14, common.Hash{14})

	cp, err := reg.RollbackTo(13)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cp.Height)

	// Canonical branch replayed from the restored cursor.
	canonical := testEvent(1, 80, 60, 14)
	require.NoError(t, reg.Apply(canonical))
	reg.Advance(14, common.Hash{0xca})

	// A registry that never saw the orphaned branch must match.
	fresh := New(10, 8, testLogger())
	require.NoError(t, fresh.Apply(testEvent(1, 100, 50, 10)))
	fresh.Advance(10, common.Hash{10})
	require.NoError(t, fresh.Apply(testEvent(1, 80, 60, 14)))
	fresh.Advance(14, common.Hash{0xca})

	require.Equal(t, fresh.Snapshot(), reg.Snapshot())
}

func TestRollbackBeyondHistoryIsFatal(t *testing.T) {
	reg := New(10, 2, testLogger())

	for h := uint64(10); h <= 60; h += 10 {
		reg.Advance(h, common.Hash{byte(h)})
	}

	// Only the two newest checkpoints survive the depth bound.
	_, err := reg.RollbackTo(20)
	require.ErrorIs(t, err, domain.ErrRollbackUnavailable)
}

func TestSeedAndExportRoundTrip(t *testing.T) {
	reg := New(10, 8, testLogger())
	require.NoError(t, reg.Apply(testEvent(1, 100, 50, 999)))
	require.NoError(t, reg.Apply(testEvent(2, 300, 20, 1000)))
	reg.Advance(1000, common.Hash{0xab})

	state := reg.ExportState()
	require.Equal(t, uint64(1000), state.Cursor.Height)
	require.Len(t, state.Positions, 2)

	restored := New(10, 8, testLogger())
	restored.Seed(state)
	require.Equal(t, reg.Snapshot(), restored.Snapshot())
	require.Equal(t, state.Cursor, restored.Cursor())
}

func TestNewClampsParameters(t *testing.T) {
	reg := New(0, 0, testLogger())

	// A zero checkpoint interval must not panic Advance; with the clamped
	// interval of one, every block is a rollback point.
	require.NoError(t, reg.Apply(testEvent(1, 100, 50, 7)))
	reg.Advance(7, common.Hash{7})

	cp, err := reg.RollbackTo(7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), cp.Height)
}
