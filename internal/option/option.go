// Package option defines the option record and its lifecycle states
package option

import (
	"fmt"
	"time"

	apperrors "options_ledger/pkg/errors"

	"github.com/shopspring/decimal"
)

// Type is the kind of right an option grants
type Type int

const (
	TypeCall Type = iota
	TypePut
)

func (t Type) String() string {
	switch t {
	case TypeCall:
		return "CALL"
	case TypePut:
		return "PUT"
	}
	return "UNKNOWN"
}

// ParseType parses "call"/"put" in any case
func ParseType(s string) (Type, error) {
	switch s {
	case "CALL", "call", "Call":
		return TypeCall, nil
	case "PUT", "put", "Put":
		return TypePut, nil
	}
	return 0, fmt.Errorf("%w: unknown option type %q", apperrors.ErrInvalidInput, s)
}

// MarshalText implements encoding.TextMarshaler
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// State is the lifecycle position of an option
type State int

const (
	StateOpen State = iota
	StateBought
	StateExercised
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateBought:
		return "BOUGHT"
	case StateExercised:
		return "EXERCISED"
	case StateCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "OPEN":
		*s = StateOpen
	case "BOUGHT":
		*s = StateBought
	case "EXERCISED":
		*s = StateExercised
	case "CANCELLED":
		*s = StateCancelled
	default:
		return fmt.Errorf("unknown option state %q", string(b))
	}
	return nil
}

// IsTerminal reports whether no further lifecycle transition exists from s
func (s State) IsTerminal() bool {
	return s == StateExercised || s == StateCancelled
}

// Option is one written contract.
//
// ID, Writer, Type, Amount, Strike, PremiumDue, Expiration and Collateral never change after
// creation. Buyer is set once on purchase and CollateralReleased flips once.
type Option struct {
	ID                 uint64          `json:"id"`
	Type               Type            `json:"type"`
	Writer             string          `json:"writer"`
	Buyer              string          `json:"buyer,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Strike             decimal.Decimal `json:"strike"`
	PremiumDue         decimal.Decimal `json:"premium_due"`
	Expiration         time.Time       `json:"expiration"`
	Collateral         decimal.Decimal `json:"collateral"`
	CollateralReleased bool            `json:"collateral_released"`
	State              State           `json:"state"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Terms are the immutable economic terms chosen by a writer
type Terms struct {
	Type       Type
	Amount     decimal.Decimal
	Strike     decimal.Decimal
	PremiumDue decimal.Decimal
	Expiration time.Time
}

// Validate checks the positivity constraints on the terms
func (t Terms) Validate() error {
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", apperrors.ErrInvalidInput, t.Amount)
	}
	if !t.Strike.IsPositive() {
		return fmt.Errorf("%w: strike must be positive, got %s", apperrors.ErrInvalidInput, t.Strike)
	}
	if !t.PremiumDue.IsPositive() {
		return fmt.Errorf("%w: premium must be positive, got %s", apperrors.ErrInvalidInput, t.PremiumDue)
	}
	if t.Type != TypeCall && t.Type != TypePut {
		return fmt.Errorf("%w: unknown option type %d", apperrors.ErrInvalidInput, t.Type)
	}
	return nil
}

// New builds an Open option for writer. Collateral is fixed to the strike.
func New(writer string, terms Terms, now time.Time) *Option {
	return &Option{
		Type:       terms.Type,
		Writer:     writer,
		Amount:     terms.Amount,
		Strike:     terms.Strike,
		PremiumDue: terms.PremiumDue,
		Expiration: terms.Expiration,
		Collateral: terms.Strike,
		State:      StateOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a copy safe to mutate without touching the original
func (o *Option) Clone() *Option {
	c := *o
	return &c
}

// IsUnused reports whether the record is the zero-writer sentinel
func (o *Option) IsUnused() bool {
	return o == nil || o.Writer == ""
}

// MarketValue is amount * price, the value compared against the strike
func (o *Option) MarketValue(price decimal.Decimal) decimal.Decimal {
	return o.Amount.Mul(price)
}

// IsInTheMoney reports whether exercising at price pays the buyer
func (o *Option) IsInTheMoney(price decimal.Decimal) bool {
	mv := o.MarketValue(price)
	if o.Type == TypeCall {
		return mv.GreaterThan(o.Strike)
	}
	return mv.LessThan(o.Strike)
}

// IsOutOfTheMoney reports whether the option is strictly worthless at price.
// At the money is neither in nor out of the money.
func (o *Option) IsOutOfTheMoney(price decimal.Decimal) bool {
	mv := o.MarketValue(price)
	if o.Type == TypeCall {
		return mv.LessThan(o.Strike)
	}
	return mv.GreaterThan(o.Strike)
}

// WithinWindow reports now < expiration, the window for buying, exercising and
// declaring an option worthless
func (o *Option) WithinWindow(now time.Time) bool {
	return now.Before(o.Expiration)
}

// PastExpiration reports now > expiration, the window for reclaiming collateral
func (o *Option) PastExpiration(now time.Time) bool {
	return now.After(o.Expiration)
}

// CheckInvariants verifies the record-level invariants
func (o *Option) CheckInvariants() error {
	if !o.Collateral.Equal(o.Strike) {
		return fmt.Errorf("option %d: collateral %s != strike %s", o.ID, o.Collateral, o.Strike)
	}
	hasBuyer := o.Buyer != ""
	if hasBuyer == (o.State == StateOpen) {
		return fmt.Errorf("option %d: buyer %q inconsistent with state %s", o.ID, o.Buyer, o.State)
	}
	if o.CollateralReleased && !o.State.IsTerminal() {
		return fmt.Errorf("option %d: collateral released in state %s", o.ID, o.State)
	}
	if o.State == StateExercised && !o.CollateralReleased {
		return fmt.Errorf("option %d: exercised without collateral release", o.ID)
	}
	return nil
}
