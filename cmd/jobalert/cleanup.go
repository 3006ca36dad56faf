package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/alert"
	"github.com/amishk599/jobalert/internal/notifier"
	"github.com/amishk599/jobalert/internal/store"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old postings and exit",
	Long:  "Deletes postings older than the retention window, along with their notification records.",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention in days (default: alerts.retention_days from config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustLoadConfig(logger)

	days := cfg.Alerts.RetentionDays
	if cmd.Flags().Changed("days") {
		days = cleanupDays
	}
	if days < 0 {
		logger.Error("--days must not be negative", "days", days)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Cleanup never fetches or sends, so the pipeline needs neither.
	pipeline := alert.New(st, nil, notifier.NewLogSender(logger), logger)
	res := pipeline.Cleanup(ctx, days)
	if !res.Success {
		logger.Error("cleanup failed", "error", res.Error)
		os.Exit(1)
	}
	logger.Info("cleanup complete",
		"deleted", res.DeletedJobsCount,
		"cutoff", res.CutoffDate.Format("2006-01-02"),
		"duration", res.Duration.String(),
	)
	return nil
}
