package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/store"
)

var runChatID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one alert pass and exit",
	Long:  "Processes every active subscriber once, or a single subscriber with --chat-id, then exits.",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runChatID, "chat-id", "", "only process the subscriber with this chat id")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustLoadConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	agg, closeCache, err := buildAggregator(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up sources", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	tgBot, err := newBot(cfg)
	if err != nil {
		logger.Error("failed to start telegram bot", "error", err)
		os.Exit(1)
	}
	pipeline := buildPipeline(cfg, st, agg, setupSender(tgBot, logger), logger)

	if runChatID != "" {
		sub, counts, err := pipeline.ProcessSubscriberByChatID(ctx, runChatID)
		if errors.Is(err, model.ErrNotFound) {
			logger.Error("no subscriber with this chat id", "chat_id", runChatID)
			os.Exit(1)
		}
		if err != nil {
			logger.Error("run failed", "chat_id", runChatID, "error", err)
			os.Exit(1)
		}
		logger.Info("run complete",
			"subscriber", sub.Name,
			"jobs_found", counts.JobsFound,
			"notifications_sent", counts.NotificationsSent,
		)
		return nil
	}

	res := pipeline.ProcessAll(ctx)
	if !res.Success {
		logger.Error("run failed", "run_id", res.RunID, "error", res.Error)
		os.Exit(1)
	}
	logger.Info("run complete",
		"run_id", res.RunID,
		"duration", res.Duration.String(),
		"users_processed", res.UsersProcessed,
		"users_failed", res.UsersFailed,
		"jobs_found", res.JobsFound,
		"notifications_sent", res.NotificationsSent,
	)
	return nil
}
