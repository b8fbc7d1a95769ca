package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"options_ledger/internal/events"
	"options_ledger/internal/option"
	apperrors "options_ledger/pkg/errors"

	"go.opentelemetry.io/otel/attribute"
)

const day = 24 * time.Hour

// maxDaysToExpiry keeps the expiration offset within time.Duration
const maxDaysToExpiry = int(math.MaxInt64 / int64(day))

// WriteOption escrows the writer's collateral and opens a new option
func (e *Engine) WriteOption(ctx context.Context, req WriteRequest) (uint64, error) {
	var id uint64
	attrs := []attribute.KeyValue{attribute.String("option.type", req.Type.String()), attribute.String("writer", req.Writer)}
	err := e.run(ctx, "write", attrs, func(ctx context.Context) error {
		if req.Writer == "" {
			return fmt.Errorf("%w: writer is required", apperrors.ErrInvalidInput)
		}
		if req.DaysToExpiry < 0 {
			return fmt.Errorf("%w: days to expiry must not be negative, got %d", apperrors.ErrInvalidInput, req.DaysToExpiry)
		}
		if req.DaysToExpiry > maxDaysToExpiry {
			return fmt.Errorf("%w: days to expiry must be at most %d, got %d", apperrors.ErrInvalidInput, maxDaysToExpiry, req.DaysToExpiry)
		}
		now := e.clock.Now()
		terms := option.Terms{
			Type:       req.Type,
			Amount:     req.Amount,
			Strike:     req.Strike,
			PremiumDue: req.PremiumDue,
			Expiration: now.Add(time.Duration(req.DaysToExpiry) * day),
		}
		if err := terms.Validate(); err != nil {
			return err
		}
		if !req.CollateralDeposit.Equal(req.Strike) {
			return fmt.Errorf("%w: collateral %s must equal strike %s", apperrors.ErrInvalidInput, req.CollateralDeposit, req.Strike)
		}

		e.sweep.RLock()
		defer e.sweep.RUnlock()

		if err := e.custody.Deposit(req.Writer, req.CollateralDeposit); err != nil {
			return err
		}
		newID, err := e.registry.Create(ctx, option.New(req.Writer, terms, now))
		if err != nil {
			if rerr := e.custody.Refund(req.Writer, req.CollateralDeposit); rerr != nil {
				e.logger.Error("Failed to refund collateral after registry failure", "writer", req.Writer, "error", rerr)
			}
			return err
		}
		if err := e.custody.Bind(newID, req.Writer, req.CollateralDeposit); err != nil {
			e.logger.Error("Custody already tracks new option id", "option_id", newID, "error", err)
		}
		id = newID

		e.logger.Info("Option written", "option_id", id, "type", req.Type.String(), "writer", req.Writer,
			"amount", req.Amount.String(), "strike", req.Strike.String(), "premium", req.PremiumDue.String(),
			"expiration", terms.Expiration.Format(time.RFC3339))
		e.metrics.RecordWritten(ctx, req.Type.String())
		e.refreshGauges()
		e.publish(events.ForOption(events.TypeOptionOpened, id, now, map[string]interface{}{
			"type":        req.Type.String(),
			"writer":      req.Writer,
			"amount":      req.Amount.String(),
			"strike":      req.Strike.String(),
			"premium_due": req.PremiumDue.String(),
			"collateral":  req.CollateralDeposit.String(),
			"expiration":  terms.Expiration,
		}))
		return nil
	})
	return id, err
}

// WriteCall writes a call option
func (e *Engine) WriteCall(ctx context.Context, req WriteRequest) (uint64, error) {
	req.Type = option.TypeCall
	return e.WriteOption(ctx, req)
}

// WritePut writes a put option
func (e *Engine) WritePut(ctx context.Context, req WriteRequest) (uint64, error) {
	req.Type = option.TypePut
	return e.WriteOption(ctx, req)
}

// BuyOption pays the premium from buyer to writer and hands buyer the option
func (e *Engine) BuyOption(ctx context.Context, typ option.Type, id uint64, buyer string) error {
	attrs := []attribute.KeyValue{idAttr(id), attribute.String("option.type", typ.String()), attribute.String("buyer", buyer)}
	return e.run(ctx, "buy", attrs, func(ctx context.Context) error {
		if buyer == "" {
			return fmt.Errorf("%w: buyer is required", apperrors.ErrInvalidInput)
		}
		unlock := e.locks.Lock(id)
		defer unlock()
		e.sweep.RLock()
		defer e.sweep.RUnlock()

		prev, err := e.load(id, &typ)
		if err != nil {
			return err
		}
		if prev.State != option.StateOpen {
			return fmt.Errorf("%w: option %d is %s, not OPEN", apperrors.ErrInvalidState, id, prev.State)
		}
		now := e.clock.Now()
		if !prev.WithinWindow(now) {
			return fmt.Errorf("%w: option %d expired at %s", apperrors.ErrWindowViolation, id, prev.Expiration.Format(time.RFC3339))
		}

		next := prev.Clone()
		next.Buyer = buyer
		next.State = option.StateBought
		next.UpdatedAt = now
		if err := e.registry.Commit(ctx, next, ""); err != nil {
			return err
		}

		var undo undoStack
		premium := prev.PremiumDue
		if err := e.settlement.TransferFrom(e.cfg.EscrowAccount, buyer, e.cfg.EscrowAccount, premium); err != nil {
			return e.abort(ctx, prev, undo, fmt.Errorf("%w: premium pull from %s: %w", apperrors.ErrTransferFailed, buyer, err))
		}
		undo.push("refund premium", func() error { return e.settlement.Transfer(e.cfg.EscrowAccount, buyer, premium) })
		if err := e.settlement.Transfer(e.cfg.EscrowAccount, prev.Writer, premium); err != nil {
			return e.abort(ctx, prev, undo, fmt.Errorf("%w: premium forward to %s: %w", apperrors.ErrTransferFailed, prev.Writer, err))
		}
		undo.push("recall premium", func() error { return e.settlement.Transfer(prev.Writer, e.cfg.EscrowAccount, premium) })

		// the position is recorded only once the premium has reached the writer
		if err := e.registry.Commit(ctx, next, buyer); err != nil {
			return e.abort(ctx, prev, undo, err)
		}

		e.logger.Info("Option bought", "option_id", id, "buyer", buyer, "writer", prev.Writer, "premium", premium.String())
		e.metrics.RecordPremium(ctx, premium.InexactFloat64())
		e.refreshGauges()
		e.publish(events.ForOption(events.TypeOptionBought, id, now, map[string]interface{}{
			"type":    prev.Type.String(),
			"buyer":   buyer,
			"writer":  prev.Writer,
			"premium": premium.String(),
		}))
		return nil
	})
}

// BuyCall buys an open call option
func (e *Engine) BuyCall(ctx context.Context, id uint64, buyer string) error {
	return e.BuyOption(ctx, option.TypeCall, id, buyer)
}

// BuyPut buys an open put option
func (e *Engine) BuyPut(ctx context.Context, id uint64, buyer string) error {
	return e.BuyOption(ctx, option.TypePut, id, buyer)
}

// checkHolder enforces the shared preconditions of exercise and expire-worthless
func (e *Engine) checkHolder(opt *option.Option, caller string, now time.Time) error {
	if opt.State == option.StateOpen {
		return fmt.Errorf("%w: option %d was never bought", apperrors.ErrInvalidState, opt.ID)
	}
	if caller == "" || caller != opt.Buyer {
		return fmt.Errorf("%w: %q is not the buyer of option %d", apperrors.ErrUnauthorized, caller, opt.ID)
	}
	if opt.State != option.StateBought {
		return fmt.Errorf("%w: option %d is %s, not BOUGHT", apperrors.ErrInvalidState, opt.ID, opt.State)
	}
	if !opt.WithinWindow(now) {
		return fmt.Errorf("%w: option %d window closed at %s", apperrors.ErrWindowViolation, opt.ID, opt.Expiration.Format(time.RFC3339))
	}
	return nil
}

// ExerciseOption settles an in-the-money option: the buyer pays the strike to the writer
// and receives the collateral
func (e *Engine) ExerciseOption(ctx context.Context, typ option.Type, id uint64, caller string) error {
	attrs := []attribute.KeyValue{idAttr(id), attribute.String("option.type", typ.String()), attribute.String("caller", caller)}
	return e.run(ctx, "exercise", attrs, func(ctx context.Context) error {
		unlock := e.locks.Lock(id)
		defer unlock()
		e.sweep.RLock()
		defer e.sweep.RUnlock()

		prev, err := e.load(id, &typ)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if err := e.checkHolder(prev, caller, now); err != nil {
			return err
		}
		price, err := e.oracle.CurrentPrice(ctx)
		if err != nil {
			return err
		}
		if !prev.IsInTheMoney(price) {
			return fmt.Errorf("%w: %s %d market value %s vs strike %s", apperrors.ErrNotInTheMoney,
				prev.Type, id, prev.MarketValue(price), prev.Strike)
		}

		next := prev.Clone()
		next.State = option.StateExercised
		next.CollateralReleased = true
		next.UpdatedAt = now
		if err := e.registry.Commit(ctx, next, ""); err != nil {
			return err
		}

		var undo undoStack
		strike := prev.Strike
		buyer, writer := prev.Buyer, prev.Writer
		if err := e.settlement.TransferFrom(e.cfg.EscrowAccount, buyer, e.cfg.EscrowAccount, strike); err != nil {
			return e.abort(ctx, prev, undo, fmt.Errorf("%w: strike pull from %s: %w", apperrors.ErrTransferFailed, buyer, err))
		}
		undo.push("refund strike", func() error { return e.settlement.Transfer(e.cfg.EscrowAccount, buyer, strike) })

		collateral, err := e.custody.Release(id, buyer)
		if err != nil {
			return e.abort(ctx, prev, undo, err)
		}
		undo.push("revert collateral release", func() error { return e.custody.Revert(id, buyer) })

		if err := e.settlement.Transfer(e.cfg.EscrowAccount, writer, strike); err != nil {
			return e.abort(ctx, prev, undo, fmt.Errorf("%w: strike forward to %s: %w", apperrors.ErrTransferFailed, writer, err))
		}

		e.logger.Info("Option exercised", "option_id", id, "buyer", buyer, "writer", writer,
			"price", price.String(), "strike", strike.String(), "collateral", collateral.String())
		e.metrics.RecordCollateralReleased(ctx, "buyer", collateral.InexactFloat64())
		e.refreshGauges()
		e.publish(events.ForOption(events.TypeOptionExercised, id, now, map[string]interface{}{
			"type":       prev.Type.String(),
			"buyer":      buyer,
			"writer":     writer,
			"price":      price.String(),
			"strike":     strike.String(),
			"collateral": collateral.String(),
		}))
		return nil
	})
}

// ExerciseCall exercises a bought call option
func (e *Engine) ExerciseCall(ctx context.Context, id uint64, caller string) error {
	return e.ExerciseOption(ctx, option.TypeCall, id, caller)
}

// ExercisePut exercises a bought put option
func (e *Engine) ExercisePut(ctx context.Context, id uint64, caller string) error {
	return e.ExerciseOption(ctx, option.TypePut, id, caller)
}

// ExpireWorthless lets the buyer declare an out-of-the-money option cancelled. No value
// moves; the collateral stays in custody for the writer to reclaim.
func (e *Engine) ExpireWorthless(ctx context.Context, id uint64, caller string) error {
	attrs := []attribute.KeyValue{idAttr(id), attribute.String("caller", caller)}
	return e.run(ctx, "expire_worthless", attrs, func(ctx context.Context) error {
		unlock := e.locks.Lock(id)
		defer unlock()

		prev, err := e.load(id, nil)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if err := e.checkHolder(prev, caller, now); err != nil {
			return err
		}
		price, err := e.oracle.CurrentPrice(ctx)
		if err != nil {
			return err
		}
		if !prev.IsOutOfTheMoney(price) {
			return fmt.Errorf("%w: %s %d is not out of the money, market value %s vs strike %s", apperrors.ErrNotInTheMoney,
				prev.Type, id, prev.MarketValue(price), prev.Strike)
		}

		next := prev.Clone()
		next.State = option.StateCancelled
		next.UpdatedAt = now
		if err := e.registry.Commit(ctx, next, ""); err != nil {
			return err
		}

		e.logger.Info("Option expired worthless", "option_id", id, "buyer", prev.Buyer, "price", price.String())
		e.refreshGauges()
		e.publish(events.ForOption(events.TypeOptionExpiredWorthless, id, now, map[string]interface{}{
			"type":   prev.Type.String(),
			"buyer":  prev.Buyer,
			"writer": prev.Writer,
			"price":  price.String(),
			"strike": prev.Strike.String(),
		}))
		return nil
	})
}

// ReclaimCollateral returns the collateral of a cancelled option to its writer once the
// option has expired
func (e *Engine) ReclaimCollateral(ctx context.Context, id uint64, caller string) error {
	attrs := []attribute.KeyValue{idAttr(id), attribute.String("caller", caller)}
	return e.run(ctx, "reclaim", attrs, func(ctx context.Context) error {
		unlock := e.locks.Lock(id)
		defer unlock()
		e.sweep.RLock()
		defer e.sweep.RUnlock()

		prev, err := e.load(id, nil)
		if err != nil {
			return err
		}
		if caller == "" || caller != prev.Writer {
			return fmt.Errorf("%w: %q is not the writer of option %d", apperrors.ErrUnauthorized, caller, id)
		}
		if prev.State != option.StateCancelled {
			return fmt.Errorf("%w: option %d is %s, not CANCELLED", apperrors.ErrInvalidState, id, prev.State)
		}
		now := e.clock.Now()
		if !prev.PastExpiration(now) {
			return fmt.Errorf("%w: option %d expires at %s", apperrors.ErrWindowViolation, id, prev.Expiration.Format(time.RFC3339))
		}
		if prev.CollateralReleased {
			return fmt.Errorf("%w: collateral of option %d already reclaimed", apperrors.ErrInvalidState, id)
		}

		next := prev.Clone()
		next.CollateralReleased = true
		next.UpdatedAt = now
		if err := e.registry.Commit(ctx, next, ""); err != nil {
			return err
		}

		collateral, err := e.custody.Release(id, prev.Writer)
		if err != nil {
			return e.abort(ctx, prev, nil, err)
		}

		e.logger.Info("Collateral reclaimed", "option_id", id, "writer", prev.Writer, "collateral", collateral.String())
		e.metrics.RecordCollateralReleased(ctx, "writer", collateral.InexactFloat64())
		e.publish(events.ForOption(events.TypeCollateralReclaimed, id, now, map[string]interface{}{
			"writer":     prev.Writer,
			"collateral": collateral.String(),
		}))
		return nil
	})
}
