// Package bootstrap loads configuration, wires the ledger's components and runs them
// until a termination signal arrives
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"options_ledger/internal/core"
	"options_ledger/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg        *Config
	Logger     core.ILogger
	Components *Components

	telemetry *telemetry.Telemetry
}

// NewApp loads configuration, initializes telemetry and logging, and wires components.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewAppWithConfig(ctx, cfg)
}

// NewAppWithConfig is NewApp for an already loaded configuration
func NewAppWithConfig(ctx context.Context, cfg *Config) (*App, error) {
	// providers first, so the logger bridge and instruments bind to them
	tel, err := telemetry.SetupWithOptions(telemetry.Options{
		ServiceName:  "options-ledger",
		StdoutTraces: cfg.Telemetry.StdoutTraces,
		StdoutLogs:   cfg.Telemetry.StdoutLogs,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("logger: %w", err)
	}

	components, err := Build(ctx, cfg, logger, nil)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("wire: %w", err)
	}

	return &App{
		Cfg:        cfg,
		Logger:     logger,
		Components: components,
		telemetry:  tel,
	}, nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts the wired components plus any extra runners and blocks until SIGINT or
// SIGTERM, or until one of them fails. Components are closed before it returns.
func (a *App) Run(extra ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, extra...)
}

// RunContext is Run bound to ctx instead of process signals
func (a *App) RunContext(ctx context.Context, extra ...Runner) error {
	runners := extra
	if a.Components != nil {
		runners = append(a.Components.Runners(), extra...)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "runners", len(runners))
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("Shutdown incomplete", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.Logger.Info("Application shut down gracefully")
	return nil
}

func (a *App) shutdown(ctx context.Context) error {
	var errs []error
	if a.Components != nil {
		errs = append(errs, a.Components.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
