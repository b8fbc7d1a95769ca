// Package apperrors holds the ledger's error taxonomy.
//
// Every failure returned by the engine wraps exactly one of these sentinels, so callers
// classify with errors.Is and transports map them to status codes.
package apperrors

import "errors"

// Ledger error kinds
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("option not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrWindowViolation   = errors.New("window violation")
	ErrNotInTheMoney     = errors.New("not in the money")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

// Ledger-level errors raised by the asset ledgers before they are wrapped by the engine
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
)

// Kind returns the taxonomy sentinel err wraps, or nil when it wraps none of them.
func Kind(err error) error {
	for _, k := range []error{
		ErrInvalidInput,
		ErrNotFound,
		ErrInvalidState,
		ErrUnauthorized,
		ErrWindowViolation,
		ErrNotInTheMoney,
		ErrTransferFailed,
		ErrOracleUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
