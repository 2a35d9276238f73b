package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/persistence"
)

// runStatusCommand prints the recent session history with goal completion
// and focus time.
func runStatusCommand(ctx context.Context, args []string) int {
	limit := 10
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: focusd status [limit]")
		return 2
	}
	if len(args) == 1 {
		if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil || limit <= 0 {
			fmt.Fprintf(os.Stderr, "invalid limit %q\n", args[0])
			return 2
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "focusd.db"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer store.Close()

	records, err := store.ListSessions(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list sessions: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Println("No sessions yet. Run 'focusd' to start one.")
		return 0
	}

	fmt.Printf("%-20s %-14s %8s %8s  %s\n", "STARTED", "MODE", "PLANNED", "GOALS", "OUTCOME")
	for _, rec := range records {
		completed, total := 0, 0
		if goalRecords, err := store.SessionGoals(ctx, rec.ID); err == nil {
			total = len(goalRecords)
			for _, g := range goalRecords {
				if g.Checked {
					completed++
				}
			}
		}

		outcome := "running"
		if rec.EndedAt != nil {
			outcome = "completed"
			if rec.EarlyTermination {
				outcome = "ended early"
			}
			outcome += fmt.Sprintf(" after %s", rec.EndedAt.Sub(rec.StartedAt).Truncate(time.Minute))
		}
		fmt.Printf("%-20s %-14s %7dm %4d/%-3d  %s\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04"),
			rec.Mode, rec.PlannedMinutes, completed, total, outcome)
	}
	return 0
}
