// Package oracle normalizes external price feed rounds into settlement-unit prices.
package oracle

import (
	"context"
	"fmt"
	"time"

	"options_ledger/internal/core"
	apperrors "options_ledger/pkg/errors"
	"options_ledger/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Reading is a normalized round
type Reading struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	RoundID   uint64          `json:"round_id"`
	Decimals  uint8           `json:"decimals"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Adapter turns a feed into an IPriceOracle
type Adapter struct {
	feed   core.IPriceFeed
	pair   string
	maxAge time.Duration
	clock  core.IClock
	logger core.ILogger
}

// NewAdapter wraps feed. maxAge 0 disables the staleness check.
func NewAdapter(feed core.IPriceFeed, pair string, maxAge time.Duration, clock core.IClock, logger core.ILogger) *Adapter {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Adapter{
		feed:   feed,
		pair:   pair,
		maxAge: maxAge,
		clock:  clock,
		logger: logger.WithField("component", "oracle").WithField("pair", pair),
	}
}

// CurrentPrice returns the latest price truncated to whole settlement units
func (a *Adapter) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	r, err := a.LatestRound(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Price, nil
}

// LatestRound reads the feed's decimals and latest round and normalizes them.
// Decimals are re-read on every call since the feed may change them.
func (a *Adapter) LatestRound(ctx context.Context) (Reading, error) {
	metrics := telemetry.GetGlobalMetrics()

	decimals, err := a.feed.Decimals(ctx)
	if err != nil {
		metrics.RecordOracleFailure(ctx, "decimals")
		a.logger.Warn("Failed to read feed decimals", "error", err)
		return Reading{}, fmt.Errorf("%w: read decimals: %v", apperrors.ErrOracleUnavailable, err)
	}

	round, err := a.feed.LatestRound(ctx)
	if err != nil {
		metrics.RecordOracleFailure(ctx, "round")
		a.logger.Warn("Failed to read latest round", "error", err)
		return Reading{}, fmt.Errorf("%w: read round: %v", apperrors.ErrOracleUnavailable, err)
	}

	if !round.Answer.IsPositive() {
		metrics.RecordOracleFailure(ctx, "non_positive")
		return Reading{}, fmt.Errorf("%w: non-positive answer %s in round %d", apperrors.ErrOracleUnavailable, round.Answer, round.RoundID)
	}
	if round.UpdatedAt.IsZero() {
		metrics.RecordOracleFailure(ctx, "incomplete")
		return Reading{}, fmt.Errorf("%w: round %d has no timestamp", apperrors.ErrOracleUnavailable, round.RoundID)
	}
	if a.maxAge > 0 {
		if age := a.clock.Now().Sub(round.UpdatedAt); age > a.maxAge {
			metrics.RecordOracleFailure(ctx, "stale")
			a.logger.Warn("Stale oracle round", "round_id", round.RoundID, "age", age.String())
			return Reading{}, fmt.Errorf("%w: round %d is %s old", apperrors.ErrOracleUnavailable, round.RoundID, age.Truncate(time.Second))
		}
	}

	price := Normalize(round.Answer, decimals)
	metrics.SetOraclePrice(price.InexactFloat64())

	return Reading{
		Pair:      a.pair,
		Price:     price,
		RoundID:   round.RoundID,
		Decimals:  decimals,
		UpdatedAt: round.UpdatedAt,
	}, nil
}

// Normalize scales a raw answer down by 10^decimals and drops the fraction
func Normalize(answer decimal.Decimal, decimals uint8) decimal.Decimal {
	return answer.Shift(-int32(decimals)).Truncate(0)
}
