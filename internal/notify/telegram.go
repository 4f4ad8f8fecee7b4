// Package notify sends out-of-band notices to the frame's owner. The frame is
// unattended, so when it loses authorization the only other signal is the QR
// code on the panel itself.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends messages to a single chat
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return &Telegram{
		api:    api,
		chatID: chatID,
		logger: logger,
	}, nil
}

// Notify sends one message to the configured chat
func (t *Telegram) Notify(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, message)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	t.logger.Debug("Notification sent", "chat_id", t.chatID)
	return nil
}
