package statefile

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testState() *domain.State {
	pos := &domain.Position{
		PoolID:           common.HexToHash("0x11"),
		CollateralAsset:  common.HexToAddress("0xaa"),
		DebtAsset:        common.HexToAddress("0xbb"),
		Owner:            common.HexToAddress("0xcc"),
		CollateralAmount: big.NewInt(100_000_000),
		DebtAmount:       big.NewInt(150_000_000),
		AccruedInterest:  big.NewInt(42),
		UpdatedBlock:     998,
	}
	state := domain.NewState()
	state.Cursor = domain.Checkpoint{Height: 1000, Hash: common.HexToHash("0x3e8")}
	state.Positions[pos.ID()] = pos
	return state
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := New(path, testLogger())
	ctx := context.Background()

	saved := testState()
	require.NoError(t, store.Save(ctx, saved))

	// A restarted process must resume exactly at the persisted cursor with
	// the same positions.
	loaded, err := New(path, testLogger()).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), loaded.Cursor.Height)
	require.Equal(t, saved.Cursor.Hash, loaded.Cursor.Hash)
	require.Equal(t, saved.Positions, loaded.Positions)
}

func TestLoadMissingFileYieldsEmptyState(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "absent.json"), testLogger())

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), state.Cursor.Height)
	require.Empty(t, state.Positions)
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	_, err := New(path, testLogger()).Load(context.Background())
	require.Error(t, err, "a torn state file must surface, not silently restart from genesis")
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := New(path, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testState()))

	next := testState()
	next.Cursor.Height = 1010
	require.NoError(t, store.Save(ctx, next))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1010), loaded.Cursor.Height)

	// No temp files may survive a completed save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
