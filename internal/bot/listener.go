package bot

import (
	"context"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/amishk599/jobalert/internal/model"
)

const pollTimeoutSeconds = 60

// updateSource is the long-polling half of *tgbotapi.BotAPI.
type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ updateSource = (*tgbotapi.BotAPI)(nil)

// Listener long-polls Telegram and answers each message through the handler.
// Messages are handled one at a time, in arrival order.
type Listener struct {
	updates updateSource
	handler *Handler
	sender  model.ChatSender
	logger  *slog.Logger
}

func NewListener(updates updateSource, handler *Handler, sender model.ChatSender, logger *slog.Logger) *Listener {
	return &Listener{updates: updates, handler: handler, sender: sender, logger: logger}
}

// Run blocks until ctx is cancelled or the update channel closes.
func (l *Listener) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSeconds
	updates := l.updates.GetUpdatesChan(cfg)
	l.logger.Info("chat bot listening for updates")

	for {
		select {
		case <-ctx.Done():
			l.updates.StopReceivingUpdates()
			l.logger.Info("chat bot stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			l.handleUpdate(ctx, upd)
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return
	}

	req := Request{
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   msg.Text,
	}
	if msg.From != nil {
		req.FirstName = msg.From.FirstName
		req.Username = msg.From.UserName
	}

	reply := l.handler.Handle(ctx, req)
	if reply == "" {
		return
	}
	if err := l.sender.Send(ctx, req.ChatID, reply); err != nil {
		l.logger.Error("chat reply failed", "chat_id", req.ChatID, "error", err)
	}
}
