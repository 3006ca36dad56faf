package notifier

import (
	"context"
	"log/slog"

	"github.com/amishk599/jobalert/internal/model"
)

var _ model.ChatSender = (*LogSender)(nil)

// LogSender writes messages to the logger instead of delivering them. Used
// for dry runs.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender that logs each message via slog.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and never fails.
func (s *LogSender) Send(_ context.Context, chatID, text string) error {
	s.logger.Info("chat message", "chat_id", chatID, "text", text)
	return nil
}
