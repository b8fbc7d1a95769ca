package bootstrap

import (
	"options_ledger/internal/core"
	"options_ledger/pkg/logging"
)

// InitLogger builds the process logger from the system section
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.System.LogLevel,
		Format: cfg.System.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	return logger.WithField("asset_pair", cfg.Oracle.Pair), nil
}
