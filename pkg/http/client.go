// Package http provides a JSON HTTP client with retry, circuit breaking and OTel instrumentation
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"options_ledger/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer decorates outgoing requests, e.g. with credentials
type Signer interface {
	SignRequest(req *http.Request) error
}

// HeaderSigner sets a fixed set of headers on every request. Empty values are skipped.
type HeaderSigner map[string]string

func (h HeaderSigner) SignRequest(req *http.Request) error {
	for k, v := range h {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return nil
}

// Config tunes the resilience policies
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	BreakerRatio [2]uint // failures out of executions that open the breaker
	BreakerDelay time.Duration
}

// DefaultConfig returns the policies used when none are configured
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		BackoffMin:   100 * time.Millisecond,
		BackoffMax:   2 * time.Second,
		BreakerRatio: [2]uint{5, 10},
		BreakerDelay: 10 * time.Second,
	}
}

// Client wraps http.Client. Reads run through retry and circuit breaker; writes run
// through the circuit breaker only and are never replayed.
type Client struct {
	client  *http.Client
	baseURL string
	signer  Signer
	reads   failsafe.Executor[*http.Response]
	writes  failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client with DefaultConfig and the given timeout
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	return NewClientWithConfig(baseURL, cfg, signer)
}

// NewClientWithConfig creates a client with explicit policies
func NewClientWithConfig(baseURL string, cfg Config, signer Signer) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(cfg.BackoffMin, cfg.BackoffMax).
		WithMaxRetries(cfg.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(cfg.BreakerRatio[0], cfg.BreakerRatio[1]).
		WithDelay(cfg.BreakerDelay).
		Build()

	meter := telemetry.GetMeter("http-client")
	reqCounter, _ := meter.Int64Counter("http_client_requests_total",
		metric.WithDescription("Total number of outgoing HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_client_errors_total",
		metric.WithDescription("Total number of failed outgoing HTTP requests"))
	latencyHist, _ := meter.Float64Histogram("http_client_request_duration_seconds",
		metric.WithDescription("Outgoing HTTP request latency in seconds"))

	return &Client{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     baseURL,
		signer:      signer,
		reads:       failsafe.With[*http.Response](retryPolicy, breaker),
		writes:      failsafe.With[*http.Response](breaker),
		tracer:      telemetry.GetTracer("http-client"),
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Get sends a GET request with query params
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	return c.do(req, c.reads)
}

// GetJSON sends a GET request and decodes the response into out
func (c *Client) GetJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Post sends a JSON POST request
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, c.writes)
}

func (c *Client) do(req *http.Request, pipeline failsafe.Executor[*http.Response]) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	// Each attempt drains and closes its own body so retried responses do not leak.
	resp, err := pipeline.Get(func() (*http.Response, error) {
		r, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer r.Body.Close()
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		return r, nil
	})

	attrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil && resp == nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.String("error", "pipeline_failed"),
		))
		return nil, fmt.Errorf("request failed: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}
