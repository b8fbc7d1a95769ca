// Package cli validates operator input before it reaches the ledger API
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAccount = errors.New("invalid account")
	ErrInvalidID      = errors.New("invalid option id")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// accounts end up in URL paths and headers
var accountPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// ValidateAccount checks an account identifier
func ValidateAccount(account string) error {
	if strings.Contains(account, "..") || !accountPattern.MatchString(account) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	return nil
}

// ParseID parses a decimal option id
func ParseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// ParseAmount parses a decimal amount. Zero is allowed only when allowZero is set.
func ParseAmount(s string, allowZero bool) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() || (d.IsZero() && !allowZero) {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, s)
	}
	return d, nil
}
