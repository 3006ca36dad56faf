package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print database counts",
	Long:  "Prints subscriber, search, posting and notification counts from the configured database.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	now := time.Now()
	stats, err := st.Stats(ctx, now.AddDate(0, 0, -7), now.AddDate(0, 0, -cfg.Alerts.RetentionDays))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read stats: %v\n", err)
		os.Exit(1)
	}

	row := func(label string, v int64) {
		fmt.Printf("%-32s %d\n", label, v)
	}
	fmt.Printf("%-32s %s\n", "Metric", "Count")
	fmt.Println(strings.Repeat("─", 40))
	row("Subscribers", stats.SubscribersTotal)
	row("  active", stats.SubscribersActive)
	row("Saved searches", stats.SearchesTotal)
	row("  active", stats.SearchesActive)
	row("Postings", stats.PostingsTotal)
	row("  created in the last 7 days", stats.PostingsRecentWeek)
	row(fmt.Sprintf("  older than %d days", cfg.Alerts.RetentionDays), stats.PostingsEligible)
	row("Notifications", stats.NotificationsTotal)
	return nil
}
