package engine

import (
	"context"
	"fmt"

	"options_ledger/internal/events"
	apperrors "options_ledger/pkg/errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

func (e *Engine) authorizeWithdrawal(operator, to string) error {
	if !e.isOperator(operator) {
		return fmt.Errorf("%w: %q is not an operator", apperrors.ErrUnauthorized, operator)
	}
	if to == "" {
		return fmt.Errorf("%w: destination account is required", apperrors.ErrInvalidInput)
	}
	return nil
}

// WithdrawExcessNative moves native held by custody beyond the unreleased escrows
func (e *Engine) WithdrawExcessNative(ctx context.Context, operator, to string) (decimal.Decimal, error) {
	var moved decimal.Decimal
	attrs := []attribute.KeyValue{attribute.String("operator", operator), attribute.String("to", to)}
	err := e.run(ctx, "withdraw_native", attrs, func(ctx context.Context) error {
		if err := e.authorizeWithdrawal(operator, to); err != nil {
			return err
		}
		e.sweep.Lock()
		defer e.sweep.Unlock()

		amount, err := e.custody.WithdrawExcess(to)
		if err != nil {
			return err
		}
		moved = amount
		e.logger.Info("Excess native withdrawn", "operator", operator, "to", to, "amount", amount.String())
		e.publish(events.New(events.TypeAdminWithdrawal, e.clock.Now(), map[string]interface{}{
			"asset":    "native",
			"operator": operator,
			"to":       to,
			"amount":   amount.String(),
		}))
		return nil
	})
	return moved, err
}

// WithdrawExcessSettlement sweeps the escrow account's settlement balance. Premiums and
// strikes are forwarded within their operation, so whatever rests there is unowned.
func (e *Engine) WithdrawExcessSettlement(ctx context.Context, operator, to string) (decimal.Decimal, error) {
	var moved decimal.Decimal
	attrs := []attribute.KeyValue{attribute.String("operator", operator), attribute.String("to", to)}
	err := e.run(ctx, "withdraw_settlement", attrs, func(ctx context.Context) error {
		if err := e.authorizeWithdrawal(operator, to); err != nil {
			return err
		}
		e.sweep.Lock()
		defer e.sweep.Unlock()

		balance := e.settlement.BalanceOf(e.cfg.EscrowAccount)
		if balance.IsPositive() {
			if err := e.settlement.Transfer(e.cfg.EscrowAccount, to, balance); err != nil {
				return fmt.Errorf("%w: settlement sweep to %s: %w", apperrors.ErrTransferFailed, to, err)
			}
		}
		moved = balance
		e.logger.Info("Excess settlement withdrawn", "operator", operator, "to", to, "amount", balance.String())
		e.publish(events.New(events.TypeAdminWithdrawal, e.clock.Now(), map[string]interface{}{
			"asset":    "settlement",
			"operator": operator,
			"to":       to,
			"amount":   balance.String(),
		}))
		return nil
	})
	return moved, err
}
