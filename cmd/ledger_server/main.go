package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"options_ledger/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ledger_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if envPath := os.Getenv("CONFIG_FILE"); envPath != "" {
		*configPath = envPath
	}

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment override: %v\n", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewAppWithConfig(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	app.Logger.Info("Starting ledger_server",
		"version", version,
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"database", cfg.App.DatabasePath,
	)

	if err := app.Run(); err != nil {
		app.Logger.Fatal("ledger_server exited with error", "error", err)
	}
}

// applyEnvOverrides lets deployments move the HTTP port without editing the config file
func applyEnvOverrides(cfg *bootstrap.Config) error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		cfg.Server.HTTPPort = port
	}
	return cfg.Validate()
}
