package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// outcomeStreamMaxLen bounds the durable outcome stream via XADD MAXLEN ~.
const outcomeStreamMaxLen int64 = 10000

// SignalBus publishes liquidation outcomes twice: on Pub/Sub for live
// listeners and on a capped Redis stream so consumers that were offline can
// catch up.
type SignalBus struct {
	rdb *redis.Client
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish fans a payload out on the Pub/Sub channel and appends it to the
// stream of the same name.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}

	args := &redis.XAddArgs{
		Stream: channel,
		MaxLen: outcomeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", channel, err)
	}
	return nil
}
