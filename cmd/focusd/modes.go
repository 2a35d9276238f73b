package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/mode"
	"github.com/pinefield/focusd/internal/persistence"
	"github.com/pinefield/focusd/internal/provider"
	"github.com/pinefield/focusd/internal/track"
)

func printModesUsage() {
	fmt.Fprintln(os.Stderr, `usage: focusd modes [action]

  list                          Show all focus modes (default)
  show <name>                   Print one mode in full
  new <name> <description...>   Generate a mode with the assistant
  categorize                    Fill the built-in modes' allowed apps
                                from your installed applications
  rm <name>                     Delete a mode`)
}

// runModesCommand manages the focus mode library.
func runModesCommand(ctx context.Context, args []string) int {
	lib := mode.NewLibrary(config.HomeDir(), nil)
	if err := lib.EnsureDefaults(); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap modes: %v\n", err)
		return 1
	}

	switch {
	case len(args) == 0 || args[0] == "list":
		slugs, err := lib.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list modes: %v\n", err)
			return 1
		}
		for _, slug := range slugs {
			m, err := lib.Load(slug)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%-16s (unreadable: %v)\n", slug, err)
				continue
			}
			fmt.Printf("%-16s %s\n", slug, m.Description)
		}
		return 0

	case args[0] == "show" && len(args) == 2:
		m, err := lib.Load(mode.CleanName(args[1]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load mode: %v\n", err)
			return 1
		}
		fmt.Printf("Name:          %s\n", m.Name)
		if m.Description != "" {
			fmt.Printf("Description:   %s\n", m.Description)
		}
		fmt.Printf("Allowed apps:  %s\n", joinOrNone(m.AllowedApps))
		fmt.Printf("Blocked apps:  %s\n", joinOrNone(m.BlockedApps))
		fmt.Printf("Blocked sites: %s\n", joinOrNone(m.BlockedSites))
		return 0

	case args[0] == "new" && len(args) >= 3:
		return runModesNew(ctx, lib, args[1], strings.Join(args[2:], " "))

	case args[0] == "categorize" && len(args) == 1:
		return runModesCategorize(ctx, lib)

	case args[0] == "rm" && len(args) == 2:
		if err := lib.Delete(mode.CleanName(args[1])); err != nil {
			fmt.Fprintf(os.Stderr, "delete mode: %v\n", err)
			return 1
		}
		fmt.Printf("Mode %s deleted.\n", mode.CleanName(args[1]))
		return 0
	}

	printModesUsage()
	return 2
}

func runModesNew(ctx context.Context, lib *mode.Library, name, description string) int {
	completer, cleanup, code := modeCompleter()
	if completer == nil {
		return code
	}
	defer cleanup()

	installed, err := track.System{}.InstalledApps(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list installed apps: %v\n", err)
		installed = nil
	}

	genCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	m, err := mode.GenerateCustom(genCtx, completer, name, description, installed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate mode: %v\n", err)
		return 1
	}
	if err := lib.Save(m); err != nil {
		fmt.Fprintf(os.Stderr, "save mode: %v\n", err)
		return 1
	}
	fmt.Printf("Mode %s created: %d allowed apps, %d blocked sites.\n",
		mode.CleanName(m.Name), len(m.AllowedApps), len(m.BlockedSites))
	return 0
}

func runModesCategorize(ctx context.Context, lib *mode.Library) int {
	completer, cleanup, code := modeCompleter()
	if completer == nil {
		return code
	}
	defer cleanup()

	installed, err := track.System{}.InstalledApps(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list installed apps: %v\n", err)
		return 1
	}
	if len(installed) == 0 {
		fmt.Fprintln(os.Stderr, "no installed apps found to categorize")
		return 1
	}

	catCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	categories, err := mode.CategorizeApps(catCtx, completer, installed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "categorize: %v\n", err)
		return 1
	}

	for slug, apps := range categories {
		m, err := lib.Load(mode.CleanName(slug))
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", slug, err)
			continue
		}
		m.AllowedApps = apps
		if err := lib.Save(m); err != nil {
			fmt.Fprintf(os.Stderr, "save %s: %v\n", slug, err)
			continue
		}
		fmt.Printf("%-16s %d allowed apps\n", mode.CleanName(slug), len(apps))
	}
	return 0
}

// modeCompleter builds a single-shot LLM call for mode generation. Returns a
// nil completer plus an exit code when no provider is available.
func modeCompleter() (mode.Completer, func(), int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return nil, nil, 1
	}
	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "focusd.db"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return nil, nil, 1
	}
	llm, _ := buildLLM(cfg, store, slog.Default(), nil)
	if llm == nil {
		store.Close()
		fmt.Fprintln(os.Stderr, "no LLM API key configured; set GROQ_API_KEY or GEMINI_API_KEY, or run 'focusd config set-key'")
		return nil, nil, 1
	}
	return provider.SingleShot{Provider: llm}, func() { store.Close() }, 0
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
