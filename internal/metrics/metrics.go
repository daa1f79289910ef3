// Package metrics exposes the liquidator's Prometheus collectors and the HTTP
// endpoint serving them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the liquidator records.
type Metrics struct {
	EventsApplied    prometheus.Counter
	EventsDropped    prometheus.Counter
	Reorgs           prometheus.Counter
	StreamReconnects prometheus.Counter
	RefreshFailures  prometheus.Counter
	TrackedPositions prometheus.Gauge
	CursorHeight     prometheus.Gauge
	Candidates       prometheus.Counter
	Liquidations     *prometheus.CounterVec
}

var (
	once sync.Once
	reg  *Metrics
)

// Default returns the process-wide metrics registry, initialising and
// registering the collectors on first use.
func Default() *Metrics {
	once.Do(func() {
		reg = &Metrics{
			EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "events_applied_total",
				Help:      "Decoded position events applied to the registry.",
			}),
			EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "events_dropped_total",
				Help:      "Malformed events dropped during decoding.",
			}),
			Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "reorgs_total",
				Help:      "Chain reorganizations handled via rollback and replay.",
			}),
			StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "stream_reconnects_total",
				Help:      "Reconnections to the streaming chain-data service.",
			}),
			RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "price_refresh_failures_total",
				Help:      "Failed price oracle fetches.",
			}),
			TrackedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "liquidator",
				Name:      "tracked_positions",
				Help:      "Positions currently tracked by the registry.",
			}),
			CursorHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "liquidator",
				Name:      "cursor_height",
				Help:      "Last durably processed block height.",
			}),
			Candidates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "candidates_total",
				Help:      "Liquidation candidates produced by health sweeps.",
			}),
			Liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "liquidator",
				Name:      "liquidations_total",
				Help:      "Liquidation submissions segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			reg.EventsApplied,
			reg.EventsDropped,
			reg.Reorgs,
			reg.StreamReconnects,
			reg.RefreshFailures,
			reg.TrackedPositions,
			reg.CursorHeight,
			reg.Candidates,
			reg.Liquidations,
		)
	})
	return reg
}

// Serve runs the /metrics HTTP endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
