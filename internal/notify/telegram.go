package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to a chat through the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
}

// NewTelegramSender creates a TelegramSender for the bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{baseURL: telegramAPI, token: token, chatID: chatID}
}

func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	var text strings.Builder
	text.WriteString("<b>")
	text.WriteString(html.EscapeString(msg.Title))
	text.WriteString("</b>\n")
	text.WriteString(html.EscapeString(plainText(msg)))

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	err := postJSON(ctx, defaultHTTPClient, url, map[string]string{
		"chat_id":    t.chatID,
		"text":       text.String(),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
