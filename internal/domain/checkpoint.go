package domain

import "github.com/ethereum/go-ethereum/common"

// Checkpoint is the ingestion cursor: the last block durably processed by the
// registry. Ingestion resumes from it after a restart or disconnect without
// loss; duplicates below it are harmless because event application is
// idempotent.
type Checkpoint struct {
	Height uint64      `json:"height"`
	Hash   common.Hash `json:"hash"`
}

// State is the persisted unit: the cursor plus the full position registry.
// It round-trips losslessly through any StateStore implementation.
type State struct {
	Cursor    Checkpoint               `json:"cursor"`
	Positions map[PositionID]*Position `json:"positions"`
}

// NewState returns an empty state at the genesis cursor.
func NewState() *State {
	return &State{Positions: make(map[PositionID]*Position)}
}
