// Package app wires tradegate together and runs the selected mode: the full
// engine with its API, the engine alone, the API alone over persisted state,
// or a one-off archive run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradegate/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// cleanup functions run in reverse order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or the mode finishes. Cancellation is a clean exit.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting tradegate",
		slog.String("mode", a.cfg.Mode),
		slog.Any("assets", a.cfg.Engine.Assets),
		slog.String("executor", a.cfg.Executor.Kind),
	)

	var mode func(context.Context, *Dependencies) error
	switch strings.ToLower(a.cfg.Mode) {
	case "full":
		mode = a.FullMode
	case "engine":
		mode = a.EngineMode
	case "server":
		mode = a.ServerMode
	case "archive":
		mode = a.ArchiveMode
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	err = mode(ctx, deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources. Calling it twice is a no-op.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
