package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvSub(t *testing.T, subs <-chan subscribeFrame) subscribeFrame {
	t.Helper()
	select {
	case sub := <-subs:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe frame")
		return subscribeFrame{}
	}
}

func recvMsg(t *testing.T, msgs <-chan domain.StreamMessage) domain.StreamMessage {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream message")
		return domain.StreamMessage{}
	}
}

// TestReconnectResumesFromAckedCursor covers the resumption contract: every
// connection subscribes from the last acknowledged cursor, never beyond it,
// and Rewind moves resumption backwards.
func TestReconnectResumesFromAckedCursor(t *testing.T) {
	subs := make(chan subscribeFrame, 4)
	dropConn := make(chan struct{})
	done := make(chan struct{})

	var upgrader websocket.Upgrader
	var connCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeFrame
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub

		// Only the first connection delivers a batch; later ones just hold
		// the subscription open until the test drops them.
		if atomic.AddInt32(&connCount, 1) == 1 {
			frame := `{"type":"data","block":{"height":150,"hash":"0x0f","finalized":true}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		select {
		case <-dropConn:
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient(Config{
		WsURL:            wsURL,
		Contracts:        []string{"0x1111111111111111111111111111111111111111"},
		ReconnectBackoff: 5 * time.Millisecond,
		MaxBackoff:       20 * time.Millisecond,
	}, domain.Checkpoint{Height: 100, Hash: common.HexToHash("0x64")}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	sub := recvSub(t, subs)
	require.Equal(t, uint64(100), sub.Cursor.Height, "first subscription starts at the seeded cursor")
	require.Equal(t, []string{"0x1111111111111111111111111111111111111111"}, sub.Contracts)

	msg := recvMsg(t, client.Messages())
	require.Equal(t, domain.StreamData, msg.Type)
	require.Equal(t, uint64(150), msg.Batch.Height)
	client.Ack(domain.Checkpoint{Height: 150, Hash: msg.Batch.Hash})

	// Drop the connection; the client must redial and resume from the
	// acknowledged cursor, not from where the stream had advanced to.
	dropConn <- struct{}{}
	sub = recvSub(t, subs)
	require.Equal(t, uint64(150), sub.Cursor.Height, "resume from the acknowledged cursor")

	// A rollback moves the resume point backwards.
	client.Rewind(domain.Checkpoint{Height: 120, Hash: common.HexToHash("0x78")})
	dropConn <- struct{}{}
	sub = recvSub(t, subs)
	require.Equal(t, uint64(120), sub.Cursor.Height, "resume from the rewound cursor")

	cancel()
	select {
	case err := <-runDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop on cancellation")
	}
}

// TestAckIsNotMovedByDelivery asserts that delivery alone never advances the
// resume cursor; only an explicit Ack does.
func TestAckIsNotMovedByDelivery(t *testing.T) {
	client := NewClient(Config{WsURL: "ws://unused"}, domain.Checkpoint{Height: 100}, testLogger())

	require.Equal(t, uint64(100), client.resumeCursor().Height)

	client.Ack(domain.Checkpoint{Height: 150})
	require.Equal(t, uint64(150), client.resumeCursor().Height)

	client.Rewind(domain.Checkpoint{Height: 120})
	require.Equal(t, uint64(120), client.resumeCursor().Height)
}
