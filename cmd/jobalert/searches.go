package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/store"
)

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List active subscribers and their saved searches",
	Long:  "Reads the database and prints a table of every active subscriber's saved searches.",
	RunE:  runSearches,
}

func init() {
	rootCmd.AddCommand(searchesCmd)
}

func runSearches(cmd *cobra.Command, args []string) error {
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

	subs, err := st.ActiveSubscribers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list subscribers: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-20s %-16s %-30s %-24s %s\n", "Subscriber", "Chat", "Keywords", "Locations", "Status")
	fmt.Println(strings.Repeat("─", 100))

	total, active := 0, 0
	for _, sub := range subs {
		searches, err := st.Searches(ctx, sub.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list searches for %s: %v\n", sub.ChatID, err)
			continue
		}
		if len(searches) == 0 {
			fmt.Printf("%-20s %-16s %-30s %-24s %s\n", truncate(sub.Name, 20), sub.ChatID, "-", "-", "no search")
			continue
		}
		for _, s := range searches {
			status := "active"
			if s.Active {
				active++
			} else {
				status = "paused"
			}
			total++
			fmt.Printf("%-20s %-16s %-30s %-24s %s\n",
				truncate(sub.Name, 20), sub.ChatID,
				truncate(strings.Join(s.Keywords, ", "), 30),
				truncate(strings.Join(s.Locations, ", "), 24),
				fmt.Sprintf("%s, %dd", status, s.MaxAgeDays))
		}
	}

	fmt.Printf("\nTotal: %d subscribers, %d searches (%d active)\n", len(subs), total, active)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
