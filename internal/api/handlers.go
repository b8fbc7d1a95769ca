package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"options_ledger/internal/engine"
	apperrors "options_ledger/pkg/errors"
	"options_ledger/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// WriteBody is the JSON body of POST /v1/calls and /v1/puts
type WriteBody struct {
	Amount       decimal.Decimal `json:"amount"`
	Strike       decimal.Decimal `json:"strike"`
	PremiumDue   decimal.Decimal `json:"premium_due"`
	DaysToExpiry int             `json:"days_to_expiry"`
	Collateral   decimal.Decimal `json:"collateral"`
}

// WithdrawBody is the JSON body of the admin withdrawals
type WithdrawBody struct {
	To string `json:"to"`
}

// ApproveBody is the JSON body of POST /v1/approvals
type ApproveBody struct {
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}

type writeFunc func(ctx context.Context, req engine.WriteRequest) (uint64, error)
type transitionFunc func(ctx context.Context, id uint64, caller string) error
type withdrawFunc func(ctx context.Context, operator, to string) (decimal.Decimal, error)

func caller(r *http.Request) string {
	return r.Header.Get(HeaderAccount)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v: %v", apperrors.ErrInvalidInput, errBadBody, err)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: option id %q", apperrors.ErrInvalidInput, raw)
	}
	return id, nil
}

func (s *Server) handleWrite(write writeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body WriteBody
		if err := decodeBody(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := write(r.Context(), engine.WriteRequest{
			Writer:            caller(r),
			Amount:            body.Amount,
			Strike:            body.Strike,
			PremiumDue:        body.PremiumDue,
			DaysToExpiry:      body.DaysToExpiry,
			CollateralDeposit: body.Collateral,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
	}
}

// handleTransition runs a per-option operation and replies with the updated record
func (s *Server) handleTransition(op transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := op(r.Context(), id, caller(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		opt, err := s.svc.GetOption(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, opt)
	}
}

func (s *Server) handleGetOption(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opt, err := s.svc.GetOption(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opt)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    account,
		"option_ids": s.svc.ListPositions(account),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	reading, err := s.svc.LatestRound(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.opts.Native == nil || s.opts.Settlement == nil {
		http.NotFound(w, r)
		return
	}
	account := r.PathValue("account")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    account,
		"native":     s.opts.Native.BalanceOf(account),
		"settlement": s.opts.Settlement.BalanceOf(account),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.opts.Approvals == nil {
		http.NotFound(w, r)
		return
	}
	var body ApproveBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner := caller(r)
	if owner == "" {
		s.writeError(w, r, fmt.Errorf("%w: %s header is required", apperrors.ErrInvalidInput, HeaderAccount))
		return
	}
	if err := s.opts.Approvals.Approve(owner, body.Spender, body.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":     owner,
		"spender":   body.Spender,
		"allowance": s.opts.Approvals.Allowance(owner, body.Spender),
	})
}

func (s *Server) handleWithdraw(op withdrawFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body WithdrawBody
		if err := decodeBody(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		amount, err := op(r.Context(), caller(r), body.To)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"to": body.To, "amount": amount})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()
	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
		"metrics": map[string]interface{}{
			"options_by_state":  metrics.GetOptionsByState(),
			"collateral_locked": metrics.GetCollateralLocked(),
		},
	}

	code := http.StatusOK
	if s.opts.Health != nil {
		health["components"] = s.opts.Health.GetStatus()
		if !s.opts.Health.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, health)
}
