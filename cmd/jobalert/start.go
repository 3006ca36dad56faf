package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobalert/internal/api"
	"github.com/amishk599/jobalert/internal/bot"
	"github.com/amishk599/jobalert/internal/scheduler"
	"github.com/amishk599/jobalert/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the alert service",
	Long:  "Starts the scheduler, the admin API and the chat bot; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustLoadConfig(logger)

	logger.Info("config loaded",
		"scheduler", cfg.Scheduler.Enabled,
		"cron", cfg.Scheduler.Cron,
		"timezone", cfg.Scheduler.Timezone,
		"admin", cfg.Admin.Enabled,
		"retention_days", cfg.Alerts.RetentionDays,
	)

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
	sender := setupSender(tgBot, logger)
	pipeline := buildPipeline(cfg, st, agg, sender, logger)

	g, ctx := errgroup.WithContext(ctx)

	deps := api.Deps{
		Pipeline:      pipeline,
		Fetcher:       agg,
		Sender:        sender,
		Stats:         st,
		Token:         cfg.Admin.Token,
		RetentionDays: cfg.Alerts.RetentionDays,
		Logger:        logger,
	}

	if cfg.Scheduler.Enabled {
		loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			logger.Error("invalid timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
			os.Exit(1)
		}
		sched, err := scheduler.New(pipeline, logger, scheduler.Options{
			Location:      loc,
			AlertsSpec:    cfg.Scheduler.Cron,
			CleanupSpec:   cfg.Scheduler.CleanupCron,
			RetentionDays: cfg.Alerts.RetentionDays,
			Alerter:       setupAlerter(cfg, logger),
		})
		if err != nil {
			logger.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		deps.Scheduler = sched
		g.Go(func() error { return sched.Run(ctx) })
	} else {
		logger.Info("scheduler disabled, runs only happen on demand")
	}

	if cfg.Admin.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Admin.Port)
		g.Go(func() error { return api.Serve(ctx, addr, api.NewHandler(deps), logger) })
	}

	if tgBot != nil && cfg.Telegram.Listen {
		listener := bot.NewListener(tgBot, bot.NewHandler(st, logger), sender, logger)
		g.Go(func() error { return listener.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}
