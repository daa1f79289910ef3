// Package app owns the application lifecycle: it wires the stream, registry,
// oracle, evaluator and executor from configuration, runs them under one
// orchestrator, and tears everything down in reverse order on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astraly-labs/vesu-liquidator/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions registered during wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, seeds the registry from persisted state, and
// blocks inside the orchestrator until ctx is cancelled or a component fails
// fatally.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting liquidator",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("assets", len(a.cfg.Assets)),
	)

	orch, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return orch.Run(ctx)
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down liquidator")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
