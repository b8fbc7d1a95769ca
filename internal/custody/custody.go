// Package custody tracks native collateral escrowed per option and releases it exactly once.
package custody

import (
	"fmt"
	"sync"

	"options_ledger/internal/core"
	"options_ledger/internal/option"
	apperrors "options_ledger/pkg/errors"
	"options_ledger/pkg/telemetry"

	"github.com/shopspring/decimal"
)

type escrow struct {
	writer   string
	amount   decimal.Decimal
	released bool
}

// Custody holds collateral in a dedicated native account
type Custody struct {
	mu      sync.Mutex
	native  core.INativeLedger
	account string
	asset   string
	escrows map[uint64]*escrow
	logger  core.ILogger
}

// New creates a custody backed by account on the native ledger
func New(native core.INativeLedger, account, asset string, logger core.ILogger) *Custody {
	return &Custody{
		native:  native,
		account: account,
		asset:   asset,
		escrows: make(map[uint64]*escrow),
		logger:  logger.WithField("component", "custody"),
	}
}

// Account is the native account holding escrowed collateral
func (c *Custody) Account() string { return c.account }

// Deposit moves amount from writer into the custody account. The deposit is not tied
// to an option until Bind, so a failed registry write can Refund it.
func (c *Custody) Deposit(writer string, amount decimal.Decimal) error {
	if err := c.native.Transfer(writer, c.account, amount); err != nil {
		return fmt.Errorf("%w: collateral deposit from %s: %v", apperrors.ErrTransferFailed, writer, err)
	}
	return nil
}

// Refund returns an unbound deposit
func (c *Custody) Refund(writer string, amount decimal.Decimal) error {
	if err := c.native.Transfer(c.account, writer, amount); err != nil {
		return fmt.Errorf("%w: collateral refund to %s: %v", apperrors.ErrTransferFailed, writer, err)
	}
	return nil
}

// Bind records the escrow for a freshly created option
func (c *Custody) Bind(id uint64, writer string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.escrows[id]; ok {
		return fmt.Errorf("%w: option %d already has an escrow", apperrors.ErrInvalidState, id)
	}
	c.escrows[id] = &escrow{writer: writer, amount: amount}
	c.publishLocked()
	return nil
}

// Release pays the escrow of id out to the given account. A second release fails with
// ErrInvalidState and moves nothing.
func (c *Custody) Release(id uint64, to string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.escrows[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no escrow for option %d", apperrors.ErrNotFound, id)
	}
	if e.released {
		return decimal.Zero, fmt.Errorf("%w: collateral of option %d already released", apperrors.ErrInvalidState, id)
	}
	if err := c.native.Transfer(c.account, to, e.amount); err != nil {
		return decimal.Zero, fmt.Errorf("%w: release of option %d to %s: %v", apperrors.ErrTransferFailed, id, to, err)
	}
	e.released = true
	c.publishLocked()
	c.logger.Info("Collateral released", "option_id", id, "to", to, "amount", e.amount.String())
	return e.amount, nil
}

// Revert undoes a release of id by pulling the collateral back from the account it was
// paid to and re-arming the escrow
func (c *Custody) Revert(id uint64, from string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.escrows[id]
	if !ok || !e.released {
		return fmt.Errorf("%w: option %d has no release to revert", apperrors.ErrInvalidState, id)
	}
	if err := c.native.Transfer(from, c.account, e.amount); err != nil {
		return fmt.Errorf("%w: revert release of option %d from %s: %v", apperrors.ErrTransferFailed, id, from, err)
	}
	e.released = false
	c.publishLocked()
	c.logger.Warn("Collateral release reverted", "option_id", id, "from", from, "amount", e.amount.String())
	return nil
}

// Restore rebuilds the escrow table from registry records
func (c *Custody) Restore(options []*option.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escrows = make(map[uint64]*escrow, len(options))
	for _, o := range options {
		if o.IsUnused() {
			continue
		}
		c.escrows[o.ID] = &escrow{writer: o.Writer, amount: o.Collateral, released: o.CollateralReleased}
	}
	c.publishLocked()
	c.logger.Info("Custody restored", "escrows", len(c.escrows), "locked", c.lockedLocked().String())
}

// IsReleased reports whether the escrow of id has been paid out
func (c *Custody) IsReleased(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.escrows[id]
	return ok && e.released
}

// Locked sums every unreleased escrow
func (c *Custody) Locked() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockedLocked()
}

// Excess is native held beyond what unreleased escrows account for. Never negative.
func (c *Custody) Excess() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	excess := c.native.BalanceOf(c.account).Sub(c.lockedLocked())
	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess
}

// WithdrawExcess moves the excess to to and returns the amount moved
func (c *Custody) WithdrawExcess(to string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	excess := c.native.BalanceOf(c.account).Sub(c.lockedLocked())
	if !excess.IsPositive() {
		return decimal.Zero, nil
	}
	if err := c.native.Transfer(c.account, to, excess); err != nil {
		return decimal.Zero, fmt.Errorf("%w: excess withdrawal to %s: %v", apperrors.ErrTransferFailed, to, err)
	}
	return excess, nil
}

func (c *Custody) lockedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.escrows {
		if !e.released {
			total = total.Add(e.amount)
		}
	}
	return total
}

func (c *Custody) publishLocked() {
	telemetry.GetGlobalMetrics().SetCollateralLocked(c.asset, c.lockedLocked().InexactFloat64())
}
