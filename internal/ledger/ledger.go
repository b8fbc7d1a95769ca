// Package ledger is an in-process fungible asset ledger with ERC-20 style allowances.
// It stands in for the external settlement and native asset ledgers.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"options_ledger/internal/core"
	apperrors "options_ledger/pkg/errors"

	"github.com/shopspring/decimal"
)

// TransferHook runs before every balance move and can veto it
type TransferHook func(from, to string, amount decimal.Decimal) error

// Ledger holds balances and allowances for one asset
type Ledger struct {
	mu         sync.Mutex
	asset      string
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner -> spender -> amount
	hook       TransferHook
	logger     core.ILogger
}

// New creates a ledger for asset seeded with genesis balances
func New(asset string, genesis map[string]decimal.Decimal, logger core.ILogger) *Ledger {
	l := &Ledger{
		asset:      asset,
		balances:   make(map[string]decimal.Decimal, len(genesis)),
		allowances: make(map[string]map[string]decimal.Decimal),
		logger:     logger.WithField("component", "ledger").WithField("asset", asset),
	}
	for account, amount := range genesis {
		l.balances[account] = amount
	}
	return l
}

// Asset is the asset symbol
func (l *Ledger) Asset() string { return l.asset }

// SetTransferHook installs h; nil removes it
func (l *Ledger) SetTransferHook(h TransferHook) {
	l.mu.Lock()
	l.hook = h
	l.mu.Unlock()
}

func (l *Ledger) BalanceOf(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

func (l *Ledger) Allowance(owner, spender string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// Approve sets spender's allowance over owner's balance, replacing any previous value
func (l *Ledger) Approve(owner, spender string, amount decimal.Decimal) error {
	if owner == "" || spender == "" {
		return fmt.Errorf("%w: owner and spender are required", apperrors.ErrInvalidInput)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative allowance %s", apperrors.ErrInvalidInput, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]decimal.Decimal)
	}
	l.allowances[owner][spender] = amount
	l.logger.Debug("Allowance set", "owner", owner, "spender", spender, "amount", amount.String())
	return nil
}

// Transfer moves amount from one account to another
func (l *Ledger) Transfer(from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount out of from on behalf of spender, consuming allowance
func (l *Ledger) TransferFrom(spender, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowances[from][spender]
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: %s allows %s %s, need %s", apperrors.ErrInsufficientAllowance, from, spender, allowed, amount)
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = allowed.Sub(amount)
	return nil
}

// Credit mints amount into account, for genesis and faucets
func (l *Ledger) Credit(account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit must be positive", apperrors.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
	return nil
}

// TotalSupply sums every balance
func (l *Ledger) TotalSupply() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, b := range l.balances {
		total = total.Add(b)
	}
	return total
}

// Accounts lists accounts with a non-zero balance
func (l *Ledger) Accounts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.balances))
	for account, b := range l.balances {
		if !b.IsZero() {
			out = append(out, account)
		}
	}
	sort.Strings(out)
	return out
}

// move requires l.mu
func (l *Ledger) move(from, to string, amount decimal.Decimal) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: from and to are required", apperrors.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: transfer amount must be positive, got %s", apperrors.ErrInvalidInput, amount)
	}
	if l.hook != nil {
		if err := l.hook(from, to, amount); err != nil {
			return err
		}
	}
	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, need %s", apperrors.ErrInsufficientFunds, from, bal, l.asset, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}
