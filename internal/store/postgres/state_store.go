package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// StateStore implements domain.StateStore on PostgreSQL. The cursor and the
// position set are replaced in one transaction so a loaded state is always
// internally consistent.
type StateStore struct {
	pool *pgxpool.Pool
}

var _ domain.StateStore = (*StateStore)(nil)

// NewStateStore creates a StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Load reads the cursor and every tracked position. An empty database yields
// an empty state at the genesis cursor.
func (s *StateStore) Load(ctx context.Context) (*domain.State, error) {
	state := domain.NewState()

	var height int64
	var blockHash string
	err := s.pool.QueryRow(ctx,
		"SELECT height, block_hash FROM liquidator_cursor WHERE id = 1",
	).Scan(&height, &blockHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return state, nil
	case err != nil:
		return nil, fmt.Errorf("postgres: load cursor: %w", err)
	}
	state.Cursor = domain.Checkpoint{
		Height: uint64(height),
		Hash:   common.HexToHash(blockHash),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT position_id, pool_id, collateral_asset, debt_asset, owner,
		       collateral_amount::TEXT, debt_amount::TEXT, accrued_interest::TEXT,
		       updated_block
		FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, poolID, collAsset, debtAsset, owner string
		var collAmt, debtAmt, interest string
		var updatedBlock int64
		if err := rows.Scan(&id, &poolID, &collAsset, &debtAsset, &owner,
			&collAmt, &debtAmt, &interest, &updatedBlock); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}

		pos := &domain.Position{
			PoolID:          common.HexToHash(poolID),
			CollateralAsset: common.HexToAddress(collAsset),
			DebtAsset:       common.HexToAddress(debtAsset),
			Owner:           common.HexToAddress(owner),
			UpdatedBlock:    uint64(updatedBlock),
		}
		var ok bool
		if pos.CollateralAmount, ok = new(big.Int).SetString(collAmt, 10); !ok {
			return nil, fmt.Errorf("postgres: position %s: bad collateral amount %q: %w", id, collAmt, domain.ErrCorruptState)
		}
		if pos.DebtAmount, ok = new(big.Int).SetString(debtAmt, 10); !ok {
			return nil, fmt.Errorf("postgres: position %s: bad debt amount %q: %w", id, debtAmt, domain.ErrCorruptState)
		}
		if pos.AccruedInterest, ok = new(big.Int).SetString(interest, 10); !ok {
			return nil, fmt.Errorf("postgres: position %s: bad accrued interest %q: %w", id, interest, domain.ErrCorruptState)
		}
		state.Positions[domain.PositionID(id)] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return state, nil
}

// Save replaces the persisted state in a single transaction.
func (s *StateStore) Save(ctx context.Context, state *domain.State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertCursor = `
		INSERT INTO liquidator_cursor (id, height, block_hash, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			height = EXCLUDED.height,
			block_hash = EXCLUDED.block_hash,
			updated_at = NOW()`
	if _, err := tx.Exec(ctx, upsertCursor,
		int64(state.Cursor.Height), state.Cursor.Hash.Hex()); err != nil {
		return fmt.Errorf("postgres: save cursor: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM positions"); err != nil {
		return fmt.Errorf("postgres: clear positions: %w", err)
	}

	const insertPosition = `
		INSERT INTO positions (
			position_id, pool_id, collateral_asset, debt_asset, owner,
			collateral_amount, debt_amount, accrued_interest, updated_block, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, NOW())`
	for id, pos := range state.Positions {
		if _, err := tx.Exec(ctx, insertPosition,
			string(id),
			pos.PoolID.Hex(),
			pos.CollateralAsset.Hex(),
			pos.DebtAsset.Hex(),
			pos.Owner.Hex(),
			pos.CollateralAmount.String(),
			pos.DebtAmount.String(),
			pos.AccruedInterest.String(),
			int64(pos.UpdatedBlock),
		); err != nil {
			return fmt.Errorf("postgres: save position %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}
