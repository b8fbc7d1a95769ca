package oracle

import (
	"context"
	"errors"
	"sync"

	"options_ledger/internal/core"

	"github.com/shopspring/decimal"
)

// StaticFeed is a settable in-process feed for development and tests
type StaticFeed struct {
	mu       sync.RWMutex
	round    core.RoundData
	decimals uint8
	err      error
	clock    core.IClock
}

// NewStaticFeed starts at round 1 with answer stamped at the clock's current time
func NewStaticFeed(answer decimal.Decimal, decimals uint8, clock core.IClock) *StaticFeed {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &StaticFeed{
		round:    core.RoundData{RoundID: 1, Answer: answer, UpdatedAt: clock.Now()},
		decimals: decimals,
		clock:    clock,
	}
}

// SetAnswer publishes a new round
func (f *StaticFeed) SetAnswer(answer decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = core.RoundData{RoundID: f.round.RoundID + 1, Answer: answer, UpdatedAt: f.clock.Now()}
}

// SetRound replaces the latest round verbatim
func (f *StaticFeed) SetRound(r core.RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = r
}

func (f *StaticFeed) SetDecimals(d uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals = d
}

// SetError makes every read fail with err until cleared with nil
func (f *StaticFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StaticFeed) LatestRound(ctx context.Context) (core.RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return core.RoundData{}, f.err
	}
	if f.round.RoundID == 0 && f.round.Answer.IsZero() {
		return core.RoundData{}, errors.New("no rounds published")
	}
	return f.round, nil
}

func (f *StaticFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.decimals, nil
}
