package engine

import (
	"context"

	"options_ledger/internal/option"
	"options_ledger/internal/oracle"

	"github.com/shopspring/decimal"
)

// Service is the boundary surface of the lifecycle engine consumed by transports
type Service interface {
	WriteCall(ctx context.Context, req WriteRequest) (uint64, error)
	WritePut(ctx context.Context, req WriteRequest) (uint64, error)
	BuyCall(ctx context.Context, id uint64, buyer string) error
	BuyPut(ctx context.Context, id uint64, buyer string) error
	ExerciseCall(ctx context.Context, id uint64, caller string) error
	ExercisePut(ctx context.Context, id uint64, caller string) error
	ExpireWorthless(ctx context.Context, id uint64, caller string) error
	ReclaimCollateral(ctx context.Context, id uint64, caller string) error

	GetOption(id uint64) (*option.Option, error)
	ListPositions(account string) []uint64
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
	LatestRound(ctx context.Context) (oracle.Reading, error)

	WithdrawExcessNative(ctx context.Context, operator, to string) (decimal.Decimal, error)
	WithdrawExcessSettlement(ctx context.Context, operator, to string) (decimal.Decimal, error)
}

// PriceSource is the oracle as the engine consumes it
type PriceSource interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
	LatestRound(ctx context.Context) (oracle.Reading, error)
}

// WriteRequest carries the writer's chosen terms and collateral deposit
type WriteRequest struct {
	Type              option.Type     `json:"-"`
	Writer            string          `json:"writer"`
	Amount            decimal.Decimal `json:"amount"`
	Strike            decimal.Decimal `json:"strike"`
	PremiumDue        decimal.Decimal `json:"premium_due"`
	DaysToExpiry      int             `json:"days_to_expiry"`
	CollateralDeposit decimal.Decimal `json:"collateral"`
}
