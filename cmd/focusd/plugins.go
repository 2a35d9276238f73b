package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/plugins"
)

// runPluginsCommand lists discovered plugins or toggles one. Enabling here
// only persists the setting; the plugin loads on the next focusd run.
func runPluginsCommand(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	manager := plugin.NewManager(cfg.HomeDir, plugins.Registry(cfg, nil), plugin.Host{
		HomeDir: cfg.HomeDir,
	}, nil)
	if err := manager.EnsureManifests(); err != nil {
		fmt.Fprintf(os.Stderr, "write manifests: %v\n", err)
		return 1
	}
	if err := manager.Discover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "discover plugins: %v\n", err)
		return 1
	}

	switch {
	case len(args) == 0 || args[0] == "list":
		available := manager.Available()
		ids := make([]string, 0, len(available))
		for id := range available {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			m := available[id]
			state := "disabled"
			if manager.Enabled(id) {
				state = "enabled"
			}
			fmt.Printf("%-12s %-8s %s (%s)\n", id, state, m.Name, m.Version)
			if m.Description != "" {
				fmt.Printf("             %s\n", m.Description)
			}
		}
		return 0

	case args[0] == "enable" && len(args) == 2:
		if err := manager.Enable(ctx, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "enable %s: %v\n", args[1], err)
			return 1
		}
		manager.CleanupAll()
		fmt.Printf("Plugin %s enabled.\n", args[1])
		return 0

	case args[0] == "disable" && len(args) == 2:
		if err := manager.Disable(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "disable %s: %v\n", args[1], err)
			return 1
		}
		fmt.Printf("Plugin %s disabled.\n", args[1])
		return 0

	case args[0] == "settings":
		return runPluginSettings(manager, args[1:])
	}

	fmt.Fprintln(os.Stderr, "usage: focusd plugins [list | enable <id> | disable <id> | settings]")
	return 2
}

// runPluginSettings shows or updates the shared app settings. Changes take
// effect on the next session start (the daemon re-reads the settings file).
func runPluginSettings(manager *plugin.Manager, args []string) int {
	app := manager.Settings().AppSettings
	if len(args) == 0 {
		fmt.Printf("popup_interval_minutes:  %d\n", app.PopupIntervalMinutes)
		fmt.Printf("breath_duration_seconds: %d\n", app.BreathDurationSeconds)
		return 0
	}

	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	popup := fs.Int("popup-interval", app.PopupIntervalMinutes, "check-in interval in minutes (1-60)")
	breath := fs.Int("breath-seconds", app.BreathDurationSeconds, "breathing exercise length in seconds")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app.PopupIntervalMinutes = *popup
	app.BreathDurationSeconds = *breath
	if err := manager.UpdateAppSettings(app); err != nil {
		fmt.Fprintf(os.Stderr, "save settings: %v\n", err)
		return 1
	}
	saved := manager.Settings().AppSettings
	fmt.Printf("Settings saved: check-in every %dm, breath %ds.\n",
		saved.PopupIntervalMinutes, saved.BreathDurationSeconds)
	return 0
}
