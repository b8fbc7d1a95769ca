package oracle

import (
	"context"
	"fmt"
	"time"

	"options_ledger/internal/core"
	apihttp "options_ledger/pkg/http"

	"github.com/shopspring/decimal"
)

// roundResponse is the JSON body served by an aggregator endpoint
type roundResponse struct {
	RoundID   uint64          `json:"round_id"`
	Answer    decimal.Decimal `json:"answer"`
	Decimals  uint8           `json:"decimals"`
	UpdatedAt int64           `json:"updated_at"` // unix seconds
}

// HTTPFeed polls a JSON aggregator endpoint: GET {base}/rounds/latest?pair=...
type HTTPFeed struct {
	client *apihttp.Client
	pair   string
	logger core.ILogger
}

// NewHTTPFeed builds a feed behind the retrying, circuit-broken client
func NewHTTPFeed(baseURL, pair, apiKey string, timeout time.Duration, maxRetries int, logger core.ILogger) *HTTPFeed {
	cfg := apihttp.DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	return &HTTPFeed{
		client: apihttp.NewClientWithConfig(baseURL, cfg, apihttp.HeaderSigner{"X-API-Key": apiKey}),
		pair:   pair,
		logger: logger.WithField("component", "http_feed"),
	}
}

func (f *HTTPFeed) fetch(ctx context.Context) (*roundResponse, error) {
	var resp roundResponse
	if err := f.client.GetJSON(ctx, "/rounds/latest", map[string]string{"pair": f.pair}, &resp); err != nil {
		f.logger.Debug("Feed request failed", "error", err)
		return nil, fmt.Errorf("fetch %s round: %w", f.pair, err)
	}
	return &resp, nil
}

func (f *HTTPFeed) LatestRound(ctx context.Context) (core.RoundData, error) {
	resp, err := f.fetch(ctx)
	if err != nil {
		return core.RoundData{}, err
	}
	rd := core.RoundData{RoundID: resp.RoundID, Answer: resp.Answer}
	if resp.UpdatedAt > 0 {
		rd.UpdatedAt = time.Unix(resp.UpdatedAt, 0).UTC()
	}
	return rd, nil
}

// Decimals is served by the same endpoint and fetched separately so a change is always seen
func (f *HTTPFeed) Decimals(ctx context.Context) (uint8, error) {
	resp, err := f.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return resp.Decimals, nil
}
