package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"options_ledger/internal/alert"
	"options_ledger/internal/api"
	"options_ledger/internal/auth"
	"options_ledger/internal/config"
	"options_ledger/internal/core"
	"options_ledger/internal/custody"
	"options_ledger/internal/engine"
	"options_ledger/internal/events"
	grpcserver "options_ledger/internal/infrastructure/grpc/server"
	"options_ledger/internal/infrastructure/health"
	"options_ledger/internal/infrastructure/metrics"
	"options_ledger/internal/ledger"
	"options_ledger/internal/oracle"
	"options_ledger/internal/registry"

	"github.com/shopspring/decimal"
)

const healthCheckTimeout = 2 * time.Second

// Components is the wired object graph of a ledger server
type Components struct {
	Store      core.IOptionStore
	Native     *ledger.Ledger
	Settlement *ledger.Ledger
	Feed       core.IPriceFeed
	Oracle     *oracle.Adapter
	Custody    *custody.Custody
	Registry   *registry.Registry
	Engine     *engine.Engine
	Alerts     *alert.AlertManager
	Hub        *events.Hub
	Dispatcher *events.Dispatcher
	Health     *health.HealthManager
	Validator  *auth.APIKeyValidator
	API        *api.Server
	GRPC       *grpcserver.HealthService // nil when server.grpc_port is 0
	Metrics    *metrics.Server           // nil unless telemetry.metrics_port is set

	logger core.ILogger
}

// Build wires every component from cfg and restores persisted state. clock may be nil.
func Build(ctx context.Context, cfg *Config, logger core.ILogger, clock core.IClock) (*Components, error) {
	if clock == nil {
		clock = core.SystemClock{}
	}
	c := &Components{logger: logger.WithField("component", "bootstrap")}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store

	c.Native = ledger.New(cfg.Assets.Native, config.GenesisBalances(cfg.Genesis.Native), logger)
	c.Settlement = ledger.New(cfg.Assets.Settlement, config.GenesisBalances(cfg.Genesis.Settlement), logger)

	c.Feed, c.Oracle = buildOracle(cfg, clock, logger)
	c.Custody = custody.New(c.Native, cfg.App.CustodyAccount, cfg.Assets.Native, logger)
	c.Registry = registry.New(store, logger)

	c.Alerts = alert.Build(logger, string(cfg.Alerts.SlackWebhookURL), cfg.Alerts.TelegramAPIURL,
		string(cfg.Alerts.TelegramBotToken), cfg.Alerts.TelegramChatID)

	c.Hub = events.NewHub(logger)
	c.Dispatcher = events.NewDispatcher(c.Hub, cfg.Concurrency.EventPoolSize, cfg.Concurrency.EventPoolBuffer, logger,
		events.LogSink(logger), alert.EventSink(c.Alerts, cfg.Alerts.Events))

	c.Engine, err = engine.New(engine.Config{
		EscrowAccount: cfg.App.EscrowAccount,
		Operators:     cfg.App.Operators,
	}, engine.Deps{
		Registry:   c.Registry,
		Custody:    c.Custody,
		Settlement: c.Settlement,
		Oracle:     c.Oracle,
		Publisher:  c.Dispatcher,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Engine.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.Health = health.NewHealthManager(logger)
	c.Health.SetTransitionHook(alert.HealthHook(c.Alerts))
	c.registerHealthChecks(cfg)

	c.Validator = auth.NewAPIKeyValidator(cfg.APIKeyStrings(), auth.DefaultRateLimitPerKey, logger)

	stream := events.NewStream(c.Hub, events.StreamConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	}, logger)

	c.API = api.NewServer(c.Engine, api.Options{
		Port:         cfg.Server.HTTPPort,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Native:       c.Native,
		Settlement:   c.Settlement,
		Approvals:    c.Settlement,
		Health:       c.Health,
		Validator:    c.Validator,
		Stream:       stream,
	}, logger)

	if cfg.Server.GRPCPort > 0 {
		c.GRPC = grpcserver.NewHealthService(cfg.Server.GRPCPort, c.Health, c.Validator, 0, logger)
	}
	if cfg.Telemetry.EnableMetrics && cfg.Telemetry.MetricsPort > 0 {
		c.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
	}

	c.logger.Info("Components wired",
		"store", fmt.Sprintf("%T", store),
		"oracle_source", cfg.Oracle.Source,
		"grpc", c.GRPC != nil,
		"alert_channels", c.Alerts.ChannelCount(),
		"metrics_port", cfg.Telemetry.MetricsPort)
	return c, nil
}

func openStore(cfg *Config) (core.IOptionStore, error) {
	if cfg.App.DatabasePath == "" {
		return registry.NewMemoryStore(), nil
	}
	store, err := registry.NewSQLiteStore(cfg.App.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open option store: %w", err)
	}
	return store, nil
}

func buildOracle(cfg *Config, clock core.IClock, logger core.ILogger) (core.IPriceFeed, *oracle.Adapter) {
	o := cfg.Oracle
	switch o.Source {
	case "http":
		feed := oracle.NewHTTPFeed(o.URL, o.Pair, string(o.APIKey), o.Timeout, o.MaxRetries, logger)
		return feed, oracle.NewAdapter(feed, o.Pair, o.MaxAge, clock, logger)
	default:
		feed := oracle.NewStaticFeed(decimal.RequireFromString(o.StaticAnswer), o.StaticDecimals, clock)
		// a static answer is never refreshed, so staleness does not apply
		return feed, oracle.NewAdapter(feed, o.Pair, 0, clock, logger)
	}
}

func (c *Components) registerHealthChecks(cfg *Config) {
	if pinger, ok := c.Store.(interface{ Ping(context.Context) error }); ok {
		c.Health.Register("store", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return pinger.Ping(ctx)
		})
	}

	c.Health.Register("oracle", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()
		_, err := c.Oracle.CurrentPrice(ctx)
		return err
	})

	c.Health.Register("custody", func() error {
		held := c.Native.BalanceOf(cfg.App.CustodyAccount)
		locked := c.Custody.Locked()
		if held.LessThan(locked) {
			return fmt.Errorf("custody holds %s %s but %s is locked", held, cfg.Assets.Native, locked)
		}
		return nil
	})
}

// Runners lists the long-running components for App.Run
func (c *Components) Runners() []Runner {
	runners := []Runner{c.Hub, c.API}
	if c.GRPC != nil {
		runners = append(runners, c.GRPC)
	}
	if c.Metrics != nil {
		runners = append(runners, c.Metrics)
	}
	return runners
}

// Close stops the dispatcher and engine, flushes pending alerts and closes the store
func (c *Components) Close() error {
	if c.Dispatcher != nil {
		c.Dispatcher.Stop()
	}
	if c.Alerts != nil {
		c.Alerts.Close()
	}
	var errs []error
	if c.Engine != nil {
		errs = append(errs, c.Engine.Stop())
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
