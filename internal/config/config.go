// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Assets      AssetsConfig      `yaml:"assets"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Genesis     GenesisConfig     `yaml:"genesis"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	DatabasePath   string   `yaml:"database_path"`   // empty keeps the registry in memory
	CustodyAccount string   `yaml:"custody_account"` // native account holding escrowed collateral
	EscrowAccount  string   `yaml:"escrow_account"`  // settlement account premiums and strikes pass through
	Operators      []string `yaml:"operators"`       // accounts allowed to withdraw excess
}

// AssetsConfig names the two assets
type AssetsConfig struct {
	Native     string `yaml:"native"`
	Settlement string `yaml:"settlement"`
}

// OracleConfig selects and tunes the price feed
type OracleConfig struct {
	Source         string        `yaml:"source"` // static or http
	Pair           string        `yaml:"pair"`
	StaticAnswer   string        `yaml:"static_answer"`
	StaticDecimals uint8         `yaml:"static_decimals"`
	URL            string        `yaml:"url"`
	APIKey         Secret        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxAge         time.Duration `yaml:"max_age"` // 0 disables the staleness check
}

// ServerConfig contains the HTTP and gRPC listeners
type ServerConfig struct {
	HTTPPort       int           `yaml:"http_port"`
	GRPCPort       int           `yaml:"grpc_port"`  // 0 disables the gRPC health service
	RateLimit      float64       `yaml:"rate_limit"` // requests per second per client IP
	RateBurst      int           `yaml:"rate_burst"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// AuthConfig holds API keys for admin routes and gRPC
type AuthConfig struct {
	APIKeys []Secret `yaml:"api_keys"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"` // 0 serves /metrics on the HTTP API port only
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTraces  bool `yaml:"stdout_traces"`
	StdoutLogs    bool `yaml:"stdout_logs"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	EventPoolSize   int `yaml:"event_pool_size"`
	EventPoolBuffer int `yaml:"event_pool_buffer"`
}

// AlertsConfig routes selected events and health transitions to chat channels.
// Channels with no credentials are skipped.
type AlertsConfig struct {
	SlackWebhookURL  Secret   `yaml:"slack_webhook_url"`
	TelegramBotToken Secret   `yaml:"telegram_bot_token"`
	TelegramChatID   string   `yaml:"telegram_chat_id"`
	TelegramAPIURL   string   `yaml:"telegram_api_url"`
	Events           []string `yaml:"events"` // event types that raise an alert
}

// GenesisConfig seeds the in-process ledgers. Amounts are decimal strings.
type GenesisConfig struct {
	Native     map[string]string `yaml:"native"`
	Settlement map[string]string `yaml:"settlement"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig, so omitted sections keep their defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string
	for _, check := range []func() error{
		c.validateAppConfig,
		c.validateAssets,
		c.validateOracleConfig,
		c.validateServerConfig,
		c.validateSystemConfig,
		c.validateConcurrencyConfig,
		c.validateAlerts,
		c.validateGenesis,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.CustodyAccount == "" {
		return ValidationError{Field: "app.custody_account", Message: "custody account is required"}
	}
	if c.App.EscrowAccount == "" {
		return ValidationError{Field: "app.escrow_account", Message: "escrow account is required"}
	}
	if c.App.CustodyAccount == c.App.EscrowAccount {
		return ValidationError{Field: "app.escrow_account", Value: c.App.EscrowAccount, Message: "must differ from custody account"}
	}
	for i, op := range c.App.Operators {
		if strings.TrimSpace(op) == "" {
			return ValidationError{Field: fmt.Sprintf("app.operators[%d]", i), Message: "operator account must not be empty"}
		}
	}
	return nil
}

func (c *Config) validateAssets() error {
	if c.Assets.Native == "" || c.Assets.Settlement == "" {
		return ValidationError{Field: "assets", Message: "native and settlement asset names are required"}
	}
	return nil
}

func (c *Config) validateOracleConfig() error {
	switch c.Oracle.Source {
	case "static":
		answer, err := decimal.NewFromString(c.Oracle.StaticAnswer)
		if err != nil || !answer.IsPositive() {
			return ValidationError{Field: "oracle.static_answer", Value: c.Oracle.StaticAnswer, Message: "must be a positive integer answer"}
		}
	case "http":
		if c.Oracle.URL == "" {
			return ValidationError{Field: "oracle.url", Message: "url is required for the http source"}
		}
	default:
		return ValidationError{Field: "oracle.source", Value: c.Oracle.Source, Message: "must be one of: static, http"}
	}
	if c.Oracle.MaxAge < 0 {
		return ValidationError{Field: "oracle.max_age", Value: c.Oracle.MaxAge, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return ValidationError{Field: "server.http_port", Value: c.Server.HTTPPort, Message: "must be a valid port"}
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return ValidationError{Field: "server.grpc_port", Value: c.Server.GRPCPort, Message: "must be a valid port or 0"}
	}
	if c.Server.RateLimit < 0 {
		return ValidationError{Field: "server.rate_limit", Value: c.Server.RateLimit, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateAlerts() error {
	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID == "" {
		return ValidationError{Field: "alerts.telegram_chat_id", Message: "chat id is required with a bot token"}
	}
	for i, typ := range c.Alerts.Events {
		if strings.TrimSpace(typ) == "" {
			return ValidationError{Field: fmt.Sprintf("alerts.events[%d]", i), Message: "event type must not be empty"}
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.EventPoolSize < 1 || c.Concurrency.EventPoolSize > 100 {
		return ValidationError{Field: "concurrency.event_pool_size", Value: c.Concurrency.EventPoolSize, Message: "must be between 1 and 100"}
	}
	if c.Concurrency.EventPoolBuffer < 1 || c.Concurrency.EventPoolBuffer > 100000 {
		return ValidationError{Field: "concurrency.event_pool_buffer", Value: c.Concurrency.EventPoolBuffer, Message: "must be between 1 and 100000"}
	}
	return nil
}

func (c *Config) validateGenesis() error {
	for section, balances := range map[string]map[string]string{"native": c.Genesis.Native, "settlement": c.Genesis.Settlement} {
		for account, amount := range balances {
			d, err := decimal.NewFromString(amount)
			if err != nil || d.IsNegative() {
				return ValidationError{
					Field:   fmt.Sprintf("genesis.%s.%s", section, account),
					Value:   amount,
					Message: "must be a non-negative decimal",
				}
			}
		}
	}
	return nil
}

// GenesisBalances parses one genesis section. Call after Validate.
func GenesisBalances(section map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(section))
	for account, amount := range section {
		out[account] = decimal.RequireFromString(amount)
	}
	return out
}

// IsOperator reports whether account may perform admin withdrawals
func (c *Config) IsOperator(account string) bool {
	return contains(c.App.Operators, account)
}

// APIKeyStrings returns the configured API keys as plain strings
func (c *Config) APIKeyStrings() []string {
	keys := make([]string, 0, len(c.Auth.APIKeys))
	for _, k := range c.Auth.APIKeys {
		if k != "" {
			keys = append(keys, string(k))
		}
	}
	return keys
}

// String returns a YAML rendering with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// expandEnvVars replaces ${VAR} and $VAR with the environment value; unset vars expand to ""
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration suitable for development and tests
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			CustodyAccount: "custody",
			EscrowAccount:  "escrow",
			Operators:      []string{"operator"},
		},
		Assets: AssetsConfig{
			Native:     "ETH",
			Settlement: "USDC",
		},
		Oracle: OracleConfig{
			Source:         "static",
			Pair:           "ETH/USD",
			StaticAnswer:   "200000000000",
			StaticDecimals: 8,
			Timeout:        5 * time.Second,
			MaxRetries:     3,
		},
		Server: ServerConfig{
			HTTPPort:     8080,
			RateLimit:    20,
			RateBurst:    40,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		System: SystemConfig{
			LogLevel:  "INFO",
			LogFormat: "console",
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			EventPoolSize:   4,
			EventPoolBuffer: 1024,
		},
		Alerts: AlertsConfig{
			TelegramAPIURL: "https://api.telegram.org",
			Events:         []string{"admin.withdrawal"},
		},
	}
}
