package stream

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// Wire envelopes for the streaming chain-indexing service. Frames are JSON
// text messages; amounts travel as decimal strings to survive 256-bit values.

type subscribeFrame struct {
	Cursor    cursorFrame `json:"cursor"`
	Contracts []string    `json:"contracts"`
	Topics    []string    `json:"topics"`
	Finality  string      `json:"finality"`
}

type cursorFrame struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash,omitempty"`
}

type serverFrame struct {
	Type       string       `json:"type"`
	Block      *blockFrame  `json:"block,omitempty"`
	Events     []eventFrame `json:"events,omitempty"`
	FromHeight uint64       `json:"from_height,omitempty"`
}

type blockFrame struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	Finalized bool   `json:"finalized"`
}

type eventFrame struct {
	Kind             string `json:"kind"`
	PoolID           string `json:"pool_id"`
	CollateralAsset  string `json:"collateral_asset"`
	DebtAsset        string `json:"debt_asset"`
	Owner            string `json:"owner"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
	AccruedInterest  string `json:"accrued_interest"`
	TxHash           string `json:"tx_hash"`
	LogIndex         uint   `json:"log_index"`
}

// decodeFrame parses one websocket text message into a StreamMessage.
// Malformed events inside a data frame are dropped individually (returned in
// the second value for logging); a malformed frame as a whole is an error.
func decodeFrame(raw []byte) (domain.StreamMessage, []error, error) {
	var frame serverFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.StreamMessage{}, nil, fmt.Errorf("stream: decode frame: %w", err)
	}

	switch frame.Type {
	case "heartbeat":
		return domain.StreamMessage{Type: domain.StreamHeartbeat}, nil, nil

	case "invalidate":
		return domain.StreamMessage{
			Type:       domain.StreamInvalidate,
			FromHeight: frame.FromHeight,
		}, nil, nil

	case "data":
		if frame.Block == nil {
			return domain.StreamMessage{}, nil, fmt.Errorf("stream: %w: data frame without block header", domain.ErrMalformedEvent)
		}
		batch := &domain.BlockBatch{
			Height:    frame.Block.Height,
			Hash:      common.HexToHash(frame.Block.Hash),
			Finalized: frame.Block.Finalized,
		}
		var dropped []error
		for i := range frame.Events {
			ev, err := decodeEvent(&frame.Events[i], batch)
			if err != nil {
				dropped = append(dropped, err)
				continue
			}
			batch.Events = append(batch.Events, *ev)
		}
		return domain.StreamMessage{Type: domain.StreamData, Batch: batch}, dropped, nil

	default:
		return domain.StreamMessage{}, nil, fmt.Errorf("stream: %w: frame type %q", domain.ErrMalformedEvent, frame.Type)
	}
}

// decodeEvent converts one wire event into a PositionEvent. It rejects unknown
// kinds, bad addresses and unparseable amounts; negative amounts are left for
// Validate to classify as corrupt state rather than a mere data error.
func decodeEvent(ef *eventFrame, block *domain.BlockBatch) (*domain.PositionEvent, error) {
	kind, err := domain.ParseEventKind(ef.Kind)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(ef.CollateralAsset) || !common.IsHexAddress(ef.DebtAsset) || !common.IsHexAddress(ef.Owner) {
		return nil, fmt.Errorf("%w: bad address in %s event (block %d log %d)",
			domain.ErrMalformedEvent, ef.Kind, block.Height, ef.LogIndex)
	}

	collateral, err := parseAmount(ef.CollateralAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: collateral amount %q", domain.ErrMalformedEvent, ef.CollateralAmount)
	}
	debt, err := parseAmount(ef.DebtAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: debt amount %q", domain.ErrMalformedEvent, ef.DebtAmount)
	}
	interest := new(big.Int)
	if ef.AccruedInterest != "" {
		interest, err = parseAmount(ef.AccruedInterest)
		if err != nil {
			return nil, fmt.Errorf("%w: accrued interest %q", domain.ErrMalformedEvent, ef.AccruedInterest)
		}
	}

	return &domain.PositionEvent{
		Kind:             kind,
		PoolID:           common.HexToHash(ef.PoolID),
		CollateralAsset:  common.HexToAddress(ef.CollateralAsset),
		DebtAsset:        common.HexToAddress(ef.DebtAsset),
		Owner:            common.HexToAddress(ef.Owner),
		CollateralAmount: collateral,
		DebtAmount:       debt,
		AccruedInterest:  interest,
		BlockHeight:      block.Height,
		BlockHash:        block.Hash,
		TxHash:           common.HexToHash(ef.TxHash),
		LogIndex:         ef.LogIndex,
	}, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer")
	}
	return n, nil
}
