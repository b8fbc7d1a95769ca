// Package api exposes the lifecycle engine over HTTP/JSON, plus the event stream, health
// and Prometheus endpoints
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"options_ledger/internal/auth"
	"options_ledger/internal/core"
	"options_ledger/internal/engine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// HeaderAccount carries the caller's account identity
const HeaderAccount = "X-Account"

// BalanceReader is the read side of a ledger
type BalanceReader interface {
	BalanceOf(account string) decimal.Decimal
}

// Approver grants settlement allowances on behalf of the caller
type Approver interface {
	Approve(owner, spender string, amount decimal.Decimal) error
	Allowance(owner, spender string) decimal.Decimal
}

// Options configure the server
type Options struct {
	Port         int
	RateLimit    float64 // requests per second per IP on /v1, 0 disables
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Native     BalanceReader         // optional, enables /v1/balances
	Settlement BalanceReader         // optional, enables /v1/balances
	Approvals  Approver              // optional, enables /v1/approvals
	Health     core.IHealthMonitor   // optional
	Validator  *auth.APIKeyValidator // guards /v1/admin; nil or no keys rejects admin calls
	Stream     http.Handler          // optional /ws handler
}

// Server is the HTTP front of the ledger
type Server struct {
	svc     engine.Service
	opts    Options
	logger  core.ILogger
	handler http.Handler
}

// NewServer wires routes and middleware
func NewServer(svc engine.Service, opts Options, logger core.ILogger) *Server {
	s := &Server{
		svc:    svc,
		opts:   opts,
		logger: logger.WithField("component", "http_api"),
	}
	s.handler = s.routes()
	return s
}

// Handler is the full middleware-wrapped mux
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("POST /v1/calls", s.handleWrite(s.svc.WriteCall))
	v1.HandleFunc("POST /v1/puts", s.handleWrite(s.svc.WritePut))
	v1.HandleFunc("POST /v1/calls/{id}/buy", s.handleTransition(s.svc.BuyCall))
	v1.HandleFunc("POST /v1/puts/{id}/buy", s.handleTransition(s.svc.BuyPut))
	v1.HandleFunc("POST /v1/calls/{id}/exercise", s.handleTransition(s.svc.ExerciseCall))
	v1.HandleFunc("POST /v1/puts/{id}/exercise", s.handleTransition(s.svc.ExercisePut))
	v1.HandleFunc("POST /v1/options/{id}/expire-worthless", s.handleTransition(s.svc.ExpireWorthless))
	v1.HandleFunc("POST /v1/options/{id}/reclaim", s.handleTransition(s.svc.ReclaimCollateral))
	v1.HandleFunc("GET /v1/options/{id}", s.handleGetOption)
	v1.HandleFunc("GET /v1/positions/{account}", s.handlePositions)
	v1.HandleFunc("GET /v1/price", s.handlePrice)
	v1.HandleFunc("GET /v1/balances/{account}", s.handleBalances)
	v1.HandleFunc("POST /v1/approvals", s.handleApprove)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /v1/admin/withdraw-native", s.handleWithdraw(s.svc.WithdrawExcessNative))
	admin.HandleFunc("POST /v1/admin/withdraw-settlement", s.handleWithdraw(s.svc.WithdrawExcessSettlement))
	validator := s.opts.Validator
	if validator == nil {
		validator = auth.NewAPIKeyValidator(nil, 0, s.logger)
	}
	v1.Handle("/v1/admin/", validator.RequireAPIKey(admin))

	var api http.Handler = v1
	if s.opts.RateLimit > 0 {
		api = newIPRateLimiter(s.opts.RateLimit, s.opts.RateBurst, s.logger).middleware(api)
	}

	root := http.NewServeMux()
	root.Handle("/v1/", api)
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("GET /metrics", promhttp.Handler())
	if s.opts.Stream != nil {
		root.Handle("GET /ws", s.opts.Stream)
	}

	return withRequestID(recoverer(s.logger, accessLog(s.logger, root)))
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP API", "port", s.opts.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Stopping HTTP API")
	return srv.Shutdown(shutdownCtx)
}
