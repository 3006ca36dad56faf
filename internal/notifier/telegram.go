package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/amishk599/jobalert/internal/model"
)

var _ model.ChatSender = (*TelegramSender)(nil)

// botClient is the part of tgbotapi.BotAPI the sender uses.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers HTML messages through the Telegram Bot API.
type TelegramSender struct {
	bot    botClient
	logger *slog.Logger
}

// NewTelegramSender wraps an authorized bot. The same bot can also serve
// the chat command listener.
func NewTelegramSender(bot *tgbotapi.BotAPI, logger *slog.Logger) *TelegramSender {
	return &TelegramSender{bot: bot, logger: logger}
}

// Send posts text to chatID. Numeric ids address users and groups; anything
// else is treated as a channel username such as "@jobs_vaud".
func (s *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		if !strings.HasPrefix(chatID, "@") {
			chatID = "@" + chatID
		}
		msg = tgbotapi.NewMessageToChannel(chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := s.bot.Send(msg); err != nil {
		return classifyTelegramError(chatID, err)
	}
	s.logger.Debug("telegram message sent", "chat_id", chatID)
	return nil
}

// classifyTelegramError maps API errors onto HTTPError so callers can tell
// throttling (429) from a blocked or unknown chat (403/400).
func classifyTelegramError(chatID string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &model.HTTPError{
			StatusCode: apiErr.Code,
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			Err:        fmt.Errorf("telegram send to %s: %s", chatID, apiErr.Message),
		}
	}
	return fmt.Errorf("telegram send to %s: %w", chatID, err)
}
