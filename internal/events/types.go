// Package events defines ledger lifecycle notifications and delivers them to websocket
// subscribers off the request path.
package events

import (
	"time"

	"options_ledger/internal/core"

	"github.com/google/uuid"
)

// Event type constants
const (
	TypeOptionOpened           = "option.opened"
	TypeOptionBought           = "option.bought"
	TypeOptionExercised        = "option.exercised"
	TypeOptionExpiredWorthless = "option.expired_worthless"
	TypeCollateralReclaimed    = "collateral.reclaimed"
	TypeAdminWithdrawal        = "admin.withdrawal"
)

// Message is the websocket frame wrapping an event
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ForOption builds an event about a single option
func ForOption(typ string, id uint64, ts time.Time, data map[string]interface{}) core.Event {
	return core.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		OptionID:  &id,
		Timestamp: ts,
		Data:      data,
	}
}

// New builds an event not tied to an option
func New(typ string, ts time.Time, data map[string]interface{}) core.Event {
	return core.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: ts,
		Data:      data,
	}
}
