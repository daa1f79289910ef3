// Package stream implements the client for the streaming chain-indexing
// service: an ordered, resumable sequence of decoded event batches with
// explicit invalidation signals on chain reorganizations.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
	"github.com/astraly-labs/vesu-liquidator/internal/metrics"
)

// readTimeout bounds the wait for the next frame; the service sends heartbeats
// well inside this window, so an expiry means the connection is dead.
const readTimeout = 90 * time.Second

// Config parameterizes the stream client.
type Config struct {
	WsURL     string
	APIKey    string
	Contracts []string
	Topics    []string

	ReconnectBackoff time.Duration
	MaxBackoff       time.Duration
}

// Client maintains the websocket subscription. Delivery is at-least-once: on
// reconnect it resumes from the last cursor acknowledged via Ack, so the same
// block range may be delivered again and consumers must be idempotent.
type Client struct {
	cfg    Config
	out    chan domain.StreamMessage
	logger *slog.Logger

	mu     sync.Mutex
	cursor domain.Checkpoint
}

// NewClient creates a Client that will start streaming from the given cursor.
func NewClient(cfg Config, start domain.Checkpoint, logger *slog.Logger) *Client {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Client{
		cfg:    cfg,
		out:    make(chan domain.StreamMessage, 64),
		logger: logger.With(slog.String("component", "stream")),
		cursor: start,
	}
}

// Messages returns the channel carrying decoded stream messages.
func (c *Client) Messages() <-chan domain.StreamMessage {
	return c.out
}

// Ack records that every block up to and including cp has been durably
// applied. Reconnects resume from the acknowledged cursor, never beyond it, so
// no range is skipped.
func (c *Client) Ack(cp domain.Checkpoint) {
	c.mu.Lock()
	c.cursor = cp
	c.mu.Unlock()
}

// Rewind moves the resume cursor backwards after a rollback, so that
// resynchronization replays from the restored checkpoint.
func (c *Client) Rewind(cp domain.Checkpoint) {
	c.Ack(cp)
}

func (c *Client) resumeCursor() domain.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Run connects and streams until ctx is cancelled, reconnecting with capped
// exponential backoff on any transport error. The outbound channel is closed
// on return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.out)

	backoff := c.cfg.ReconnectBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.Default().StreamReconnects.Inc()
		c.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
			slog.Uint64("resume_height", c.resumeCursor().Height),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// runConnection dials, subscribes from the resume cursor, and pumps frames
// until the connection breaks or ctx is cancelled.
func (c *Client) runConnection(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WsURL, header)
	if err != nil {
		return fmt.Errorf("stream: dial %s: %w", c.cfg.WsURL, err)
	}
	defer conn.Close()

	// Drop the connection promptly when the context ends mid-read.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	cursor := c.resumeCursor()
	sub := subscribeFrame{
		Cursor:    cursorFrame{Height: cursor.Height, Hash: cursor.Hash.Hex()},
		Contracts: c.cfg.Contracts,
		Topics:    c.cfg.Topics,
		Finality:  "pending",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("stream: subscribe: %w", err)
	}
	c.logger.Info("stream subscribed",
		slog.Uint64("from_height", cursor.Height),
		slog.Int("contracts", len(c.cfg.Contracts)),
	)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("stream: set read deadline: %w", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream: %w: %v", domain.ErrStreamDisconnect, err)
		}

		msg, dropped, err := decodeFrame(raw)
		if err != nil {
			// A single bad frame is a data error: record and continue.
			metrics.Default().EventsDropped.Inc()
			c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
			continue
		}
		for _, dropErr := range dropped {
			metrics.Default().EventsDropped.Inc()
			c.logger.Warn("dropping malformed event", slog.String("error", dropErr.Error()))
		}

		if msg.Type == domain.StreamHeartbeat {
			continue
		}

		select {
		case c.out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
