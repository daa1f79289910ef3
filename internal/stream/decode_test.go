package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

const validDataFrame = `{
	"type": "data",
	"block": {"height": 1200, "hash": "0x0c", "finalized": false},
	"events": [
		{
			"kind": "borrow",
			"pool_id": "0x01",
			"collateral_asset": "0x00000000000000000000000000000000000000aa",
			"debt_asset": "0x00000000000000000000000000000000000000bb",
			"owner": "0x00000000000000000000000000000000000000cc",
			"collateral_amount": "100000000000000000000",
			"debt_amount": "150000000",
			"accrued_interest": "0",
			"tx_hash": "0xdead",
			"log_index": 3
		}
	]
}`

func TestDecodeDataFrame(t *testing.T) {
	msg, dropped, err := decodeFrame([]byte(validDataFrame))
	require.NoError(t, err)
	require.Empty(t, dropped)
	require.Equal(t, domain.StreamData, msg.Type)
	require.Equal(t, uint64(1200), msg.Batch.Height)
	require.Len(t, msg.Batch.Events, 1)

	ev := msg.Batch.Events[0]
	require.Equal(t, domain.EventBorrow, ev.Kind)
	require.Equal(t, "100000000000000000000", ev.CollateralAmount.String())
	require.Equal(t, "150000000", ev.DebtAmount.String())
	require.Equal(t, uint64(1200), ev.BlockHeight)
	require.Equal(t, uint(3), ev.LogIndex)
	require.NoError(t, ev.Validate())
}

func TestDecodeInvalidateFrame(t *testing.T) {
	msg, dropped, err := decodeFrame([]byte(`{"type":"invalidate","from_height":1195}`))
	require.NoError(t, err)
	require.Empty(t, dropped)
	require.Equal(t, domain.StreamInvalidate, msg.Type)
	require.Equal(t, uint64(1195), msg.FromHeight)
}

func TestDecodeHeartbeatFrame(t *testing.T) {
	msg, _, err := decodeFrame([]byte(`{"type":"heartbeat"}`))
	require.NoError(t, err)
	require.Equal(t, domain.StreamHeartbeat, msg.Type)
}

func TestDecodeUnknownFrameType(t *testing.T) {
	_, _, err := decodeFrame([]byte(`{"type":"snapshot"}`))
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestDecodeDataFrameWithoutBlock(t *testing.T) {
	_, _, err := decodeFrame([]byte(`{"type":"data","events":[]}`))
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestDecodeNotJSON(t *testing.T) {
	_, _, err := decodeFrame([]byte(`not json`))
	require.Error(t, err)
}

func TestMalformedEventsDroppedIndividually(t *testing.T) {
	frame := `{
		"type": "data",
		"block": {"height": 10, "hash": "0x0a", "finalized": true},
		"events": [
			{
				"kind": "unknown-kind",
				"collateral_asset": "0x00000000000000000000000000000000000000aa",
				"debt_asset": "0x00000000000000000000000000000000000000bb",
				"owner": "0x00000000000000000000000000000000000000cc",
				"collateral_amount": "1", "debt_amount": "1"
			},
			{
				"kind": "repay",
				"collateral_asset": "not-an-address",
				"debt_asset": "0x00000000000000000000000000000000000000bb",
				"owner": "0x00000000000000000000000000000000000000cc",
				"collateral_amount": "1", "debt_amount": "1"
			},
			{
				"kind": "repay",
				"collateral_asset": "0x00000000000000000000000000000000000000aa",
				"debt_asset": "0x00000000000000000000000000000000000000bb",
				"owner": "0x00000000000000000000000000000000000000cc",
				"collateral_amount": "1", "debt_amount": "abc"
			},
			{
				"kind": "repay",
				"pool_id": "0x01",
				"collateral_asset": "0x00000000000000000000000000000000000000aa",
				"debt_asset": "0x00000000000000000000000000000000000000bb",
				"owner": "0x00000000000000000000000000000000000000cc",
				"collateral_amount": "5", "debt_amount": "0"
			}
		]
	}`

	msg, dropped, err := decodeFrame([]byte(frame))
	require.NoError(t, err, "one bad event must not poison the frame")
	require.Len(t, dropped, 3)
	for _, dropErr := range dropped {
		require.ErrorIs(t, dropErr, domain.ErrMalformedEvent)
	}
	require.Len(t, msg.Batch.Events, 1)
	require.Equal(t, "5", msg.Batch.Events[0].CollateralAmount.String())
}

func TestNegativeAmountDecodesForValidateToCatch(t *testing.T) {
	frame := `{
		"type": "data",
		"block": {"height": 10, "hash": "0x0a", "finalized": true},
		"events": [{
			"kind": "withdraw",
			"pool_id": "0x01",
			"collateral_asset": "0x00000000000000000000000000000000000000aa",
			"debt_asset": "0x00000000000000000000000000000000000000bb",
			"owner": "0x00000000000000000000000000000000000000cc",
			"collateral_amount": "-5", "debt_amount": "1"
		}]
	}`

	msg, dropped, err := decodeFrame([]byte(frame))
	require.NoError(t, err)
	require.Empty(t, dropped, "negative balances are corrupt state, not a decode error")
	require.Len(t, msg.Batch.Events, 1)
	require.ErrorIs(t, msg.Batch.Events[0].Validate(), domain.ErrCorruptState)
}
