package oracle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/astraly-labs/vesu-liquidator/internal/metrics"
)

// Refresher updates every tracked symbol on a fixed interval, independent of
// event arrival. Fetch failures keep prior values; once consecutive full-cycle
// failures reach the configured ceiling the refresher logs a degraded-mode
// warning and keeps running on stale prices rather than crashing.
type Refresher struct {
	client   *Client
	cache    *Cache
	symbols  []string
	interval time.Duration
	ceiling  int
	logger   *slog.Logger

	consecutiveFailures int
}

// NewRefresher creates a Refresher for the given tracked symbols.
func NewRefresher(client *Client, cache *Cache, symbols []string, interval time.Duration, failureCeiling int, logger *slog.Logger) *Refresher {
	return &Refresher{
		client:   client,
		cache:    cache,
		symbols:  symbols,
		interval: interval,
		ceiling:  failureCeiling,
		logger:   logger.With(slog.String("component", "oracle_refresher")),
	}
}

// Run refreshes immediately, then on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("oracle refresher started",
		slog.Int("symbols", len(r.symbols)),
		slog.Duration("interval", r.interval),
	)

	r.refreshAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("oracle refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

// refreshAll fetches every tracked symbol concurrently and stores successes.
// A cycle counts as failed only when no symbol could be refreshed.
func (r *Refresher) refreshAll(ctx context.Context) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for _, symbol := range r.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			quote, err := r.client.FetchUSDPrice(ctx, symbol)
			if err != nil {
				if ctx.Err() == nil {
					metrics.Default().RefreshFailures.Inc()
					r.logger.Warn("price refresh failed, keeping previous quote",
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
				}
				return
			}

			r.cache.Put(quote)
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	if succeeded == 0 && ctx.Err() == nil {
		r.consecutiveFailures++
		if r.consecutiveFailures >= r.ceiling {
			r.logger.Error("oracle degraded: refresh ceiling reached, evaluating on stale prices",
				slog.Int("consecutive_failures", r.consecutiveFailures),
			)
		}
		return
	}
	r.consecutiveFailures = 0
}
