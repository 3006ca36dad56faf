package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/notifier"
)

var notifyChatID string

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification subcommands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test notification",
	Long:  "Sends a sample job message to --chat-id and a test alert to the Slack ops webhook, whichever are configured.",
	RunE:  runNotifyTest,
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyChatID, "chat-id", "", "chat to send the sample job message to")
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustLoadConfig(logger)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	alerter := setupAlerter(cfg, logger)
	if notifyChatID == "" && alerter == nil {
		logger.Error("nothing to test: pass --chat-id or set ops.slack_webhook_url")
		os.Exit(1)
	}

	failed := false
	if notifyChatID != "" {
		tgBot, err := newBot(cfg)
		if err != nil {
			logger.Error("failed to start telegram bot", "error", err)
			os.Exit(1)
		}
		sample := model.JobMatch{
			ID:       "test",
			Title:    "Test Engineer",
			Company:  "jobalert",
			Location: "Lausanne",
			URL:      "https://example.com/jobs/test",
			PostedAt: time.Now(),
			Source:   model.SourceGoogle,
		}
		if err := setupSender(tgBot, logger).Send(ctx, notifyChatID, notifier.FormatManualMessage(sample)); err != nil {
			logger.Error("test chat message failed", "chat_id", notifyChatID, "error", err)
			failed = true
		} else {
			logger.Info("test chat message sent", "chat_id", notifyChatID)
		}
	}

	if alerter != nil {
		err := alerter.Alert(ctx, "Test alert",
			model.AlertField{Label: "Source", Value: "jobalert notify test"},
			model.AlertField{Label: "Time", Value: time.Now().Format(time.RFC3339)},
		)
		if err != nil {
			logger.Error("test slack alert failed", "error", err)
			failed = true
		} else {
			logger.Info("test slack alert sent")
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}
