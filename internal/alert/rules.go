package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"options_ledger/internal/core"
	"options_ledger/internal/events"
)

// repeatCooldown keeps a flapping component from paging on every probe
const repeatCooldown = time.Minute

var eventTitles = map[string]string{
	events.TypeOptionOpened:           "Option written",
	events.TypeOptionBought:           "Option bought",
	events.TypeOptionExercised:        "Option exercised",
	events.TypeOptionExpiredWorthless: "Option expired worthless",
	events.TypeCollateralReclaimed:    "Collateral reclaimed",
	events.TypeAdminWithdrawal:        "Admin withdrawal",
}

// EventSink raises an alert for every event whose type is listed
func EventSink(am *AlertManager, types []string) events.Sink {
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	return func(evt core.Event) {
		if !wanted[evt.Type] {
			return
		}
		level := Info
		if evt.Type == events.TypeAdminWithdrawal {
			level = Warning
		}
		title, ok := eventTitles[evt.Type]
		if !ok {
			title = evt.Type
		}
		fields := make(map[string]string, len(evt.Data)+1)
		for k, v := range evt.Data {
			fields[k] = fmt.Sprint(v)
		}
		msg := fmt.Sprintf("event %s at %s", evt.ID, evt.Timestamp.UTC().Format("2006-01-02 15:04:05"))
		if evt.OptionID != nil {
			fields["option_id"] = fmt.Sprint(*evt.OptionID)
		}
		am.Alert(context.Background(), title, msg, level, fields)
	}
}

// HealthHook alerts when a component changes state
func HealthHook(am *AlertManager) func(component string, healthy bool, err error) {
	return func(component string, healthy bool, err error) {
		if healthy {
			am.Alert(context.Background(), "Component recovered", component+" is healthy again", Info,
				map[string]string{"component": component})
			return
		}
		am.Alert(context.Background(), "Component unhealthy", fmt.Sprint(err), Error,
			map[string]string{"component": component})
	}
}

// Build creates a manager with whichever channels have credentials
func Build(logger core.ILogger, slackURL, telegramAPI, telegramToken, telegramChat string) *AlertManager {
	am := NewAlertManager(logger)
	am.SetCooldown(repeatCooldown)
	if ch := NewSlackChannel(slackURL); ch != nil {
		am.AddChannel(ch)
	}
	if ch := NewTelegramChannel(telegramAPI, telegramToken, telegramChat); ch != nil {
		am.AddChannel(ch)
	}
	return am
}

// sortedKeys orders field names for stable rendering
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
