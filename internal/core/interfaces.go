// Package core defines the core interfaces for the options ledger
package core

import (
	"context"
	"time"

	"options_ledger/internal/option"

	"github.com/shopspring/decimal"
)

// ISettlementLedger is the fungible settlement asset: balances, allowances and transfers
type ISettlementLedger interface {
	BalanceOf(account string) decimal.Decimal
	Allowance(owner, spender string) decimal.Decimal
	Approve(owner, spender string, amount decimal.Decimal) error
	Transfer(from, to string, amount decimal.Decimal) error
	TransferFrom(spender, from, to string, amount decimal.Decimal) error
}

// INativeLedger is the native asset attached to calls. It has no allowances.
type INativeLedger interface {
	BalanceOf(account string) decimal.Decimal
	Transfer(from, to string, amount decimal.Decimal) error
}

// RoundData is one oracle round
type RoundData struct {
	RoundID   uint64
	Answer    decimal.Decimal
	UpdatedAt time.Time
}

// IPriceFeed is an external aggregator reporting a scaled integer answer
type IPriceFeed interface {
	LatestRound(ctx context.Context) (RoundData, error)
	Decimals(ctx context.Context) (uint8, error)
}

// IPriceOracle returns the current underlying price in settlement units
type IPriceOracle interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
}

// IOptionStore persists option records and the per-account position index
type IOptionStore interface {
	// CommitOption upserts opt and, when positionAccount is non-empty, appends opt.ID to
	// that account's position list. Both happen in one transaction.
	CommitOption(ctx context.Context, opt *option.Option, positionAccount string) error
	LoadOptions(ctx context.Context) ([]*option.Option, error)
	LoadPositions(ctx context.Context) (map[string][]uint64, error)
	Close() error
}

// Event is a lifecycle notification emitted after a successful commit
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	OptionID  *uint64                `json:"option_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// IEventPublisher fans events out to subscribers
type IEventPublisher interface {
	Publish(evt Event)
}

// IClock supplies the current time
type IClock interface {
	Now() time.Time
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
