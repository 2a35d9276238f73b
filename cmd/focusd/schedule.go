package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/cron"
	"github.com/pinefield/focusd/internal/goals"
	"github.com/pinefield/focusd/internal/persistence"
)

func printScheduleUsage() {
	fmt.Fprintln(os.Stderr, `usage: focusd schedule <action>

  list                          Show all schedules
  add -name <n> -cron <expr> -mode <m> [-minutes <n>] [-goals <text>]
                                Add a recurring session
                                Example: -cron "0 9 * * 1-5" for 9:00 weekdays
  rm <id>                       Delete a schedule`)
}

// runScheduleCommand manages recurring sessions. The daemon fires them; this
// only edits the table.
func runScheduleCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printScheduleUsage()
		return 2
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

	switch args[0] {
	case "list":
		schedules, err := store.ListSchedules(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list schedules: %v\n", err)
			return 1
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules. Add one with 'focusd schedule add'.")
			return 0
		}
		fmt.Printf("%-36s %-16s %-16s %-8s %s\n", "ID", "NAME", "CRON", "STATE", "NEXT RUN")
		for _, sched := range schedules {
			state := "disabled"
			if sched.Enabled {
				state = "enabled"
			}
			next := "-"
			if sched.NextRunAt != nil {
				next = sched.NextRunAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%-36s %-16s %-16s %-8s %s\n", sched.ID, sched.Name, sched.CronExpr, state, next)
		}
		return 0

	case "add":
		fs := flag.NewFlagSet("schedule add", flag.ContinueOnError)
		name := fs.String("name", "", "schedule name (required)")
		cronExpr := fs.String("cron", "", "cron expression, five fields (required)")
		modeName := fs.String("mode", "", "focus mode to run (required)")
		minutes := fs.Int("minutes", 25, "session length in minutes")
		goalsText := fs.String("goals", "", "goals, separated by newlines or semicolons")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *name == "" || *cronExpr == "" || *modeName == "" {
			printScheduleUsage()
			return 2
		}
		req := cron.StartRequest{
			Mode:    *modeName,
			Minutes: *minutes,
			Goals:   goals.Parse(*goalsText),
		}
		if err := cron.CreateSchedule(ctx, store, *name, *cronExpr, req); err != nil {
			fmt.Fprintf(os.Stderr, "add schedule: %v\n", err)
			return 1
		}
		next, err := cron.NextRunTime(*cronExpr, time.Now())
		if err == nil {
			fmt.Printf("Schedule %q added, first run %s.\n", *name, next.Local().Format("2006-01-02 15:04"))
		} else {
			fmt.Printf("Schedule %q added.\n", *name)
		}
		return 0

	case "rm":
		if len(args) != 2 {
			printScheduleUsage()
			return 2
		}
		if err := store.DeleteSchedule(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "remove schedule: %v\n", err)
			return 1
		}
		fmt.Println("Schedule removed.")
		return 0
	}

	printScheduleUsage()
	return 2
}
