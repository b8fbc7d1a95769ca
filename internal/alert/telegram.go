package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	apihttp "options_ledger/pkg/http"
)

type TelegramChannel struct {
	client   *apihttp.Client
	botToken string
	chatID   string
}

// NewTelegramChannel sends through the Bot API at apiURL. Missing credentials yield nil.
func NewTelegramChannel(apiURL, botToken, chatID string) *TelegramChannel {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &TelegramChannel{
		client:   apihttp.NewClient(strings.TrimRight(apiURL, "/"), 5*time.Second, nil),
		botToken: botToken,
		chatID:   chatID,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	icon := "ℹ️"
	switch alert.Level {
	case Warning:
		icon = "⚠️"
	case Error:
		icon = "❌"
	case Critical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s] %s*\n\n%s", icon, alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		b.WriteString("\n")
		for _, k := range sortedKeys(alert.Fields) {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       b.String(),
		"parse_mode": "Markdown",
	}
	if _, err := t.client.Post(ctx, "/bot"+t.botToken+"/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram api: %w", err)
	}
	return nil
}
