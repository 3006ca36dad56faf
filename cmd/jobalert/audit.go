package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/audit"
	"github.com/amishk599/jobalert/internal/config"
	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/notifier"
	"github.com/amishk599/jobalert/internal/store"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	Aliases: []string{"preview"},
	Short:   "Preview a saved search interactively (TUI)",
	Long:    "Shows a saved-search picker, then a split-pane view of every listing found next to the ones that would be sent. Nothing is saved or sent.",
	RunE:    runAuditCmd,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

type searchEntry struct {
	sub    model.Subscriber
	search model.SavedSearch
}

func runAuditCmd(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustLoadConfig(logger)

	// The TUI owns the terminal; any log line written while it runs
	// corrupts the display.
	silentLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	runAudit(ctx, cfg, st, silentLogger)
	return nil
}

func runAudit(ctx context.Context, cfg *config.Config, st model.Store, logger *slog.Logger) {
	entries, err := listSearches(ctx, st)
	if err != nil {
		fmt.Printf("Error listing searches: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No active saved searches.")
		return
	}

	agg, closeCache, err := buildAggregator(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Error setting up sources: %v\n", err)
		return
	}
	defer closeCache()
	pipeline := buildPipeline(cfg, st, agg, notifier.NewLogSender(logger), logger)

	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = searchLabel(e)
	}

	for {
		choice, err := audit.RunPicker("Select a saved search", labels)
		if err != nil {
			fmt.Printf("Picker error: %v\n", err)
			return
		}
		if choice < 0 {
			return
		}
		e := entries[choice]

		preview, err := audit.RunLoader(e.sub.Name, func(ctx context.Context) (audit.Preview, error) {
			fetched, pending, err := pipeline.Preview(ctx, e.sub, e.search)
			return audit.Preview{Fetched: fetched, Pending: pending}, err
		})
		if err != nil {
			fmt.Printf("Error fetching listings: %v\n", err)
			continue
		}

		wantQuit, err := audit.RunAuditTUI(preview)
		if err != nil {
			fmt.Printf("TUI error: %v\n", err)
		}
		if wantQuit {
			return
		}
	}
}

func listSearches(ctx context.Context, st model.Store) ([]searchEntry, error) {
	subs, err := st.ActiveSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	var entries []searchEntry
	for _, sub := range subs {
		searches, err := st.ActiveSearches(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("searches for %s: %w", sub.ChatID, err)
		}
		for _, s := range searches {
			entries = append(entries, searchEntry{sub: sub, search: s})
		}
	}
	return entries, nil
}

func searchLabel(e searchEntry) string {
	return fmt.Sprintf("%s (%s)  %s  in %s, %dd",
		e.sub.Name, e.sub.ChatID,
		strings.Join(e.search.Keywords, ", "),
		strings.Join(e.search.Locations, ", "),
		e.search.MaxAgeDays)
}
