package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pinefield/focusd/internal/config"
)

func TestWatcher_DetectsPluginSettingsChange(t *testing.T) {
	homeDir := t.TempDir()

	// Create initial plugin_settings.json so the watcher has something to watch.
	settingsPath := filepath.Join(homeDir, "plugin_settings.json")
	if err := os.WriteFile(settingsPath, []byte(`{"enabled_plugins":[]}`), 0o644); err != nil {
		t.Fatalf("write initial settings: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Instead of a fixed sleep, retry the write at short intervals until the
	// watcher produces an event. This handles any platform-specific delay in
	// filesystem notification readiness.
	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	updated := []byte(`{"enabled_plugins":["cheer"]}`)
	if err := os.WriteFile(settingsPath, updated, 0o644); err != nil {
		t.Fatalf("write updated settings: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "plugin_settings.json" {
				t.Fatalf("expected plugin_settings.json event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			// Re-write the file in case the watcher was not yet ready.
			_ = os.WriteFile(settingsPath, updated, 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for plugin_settings.json change event")
		}
	}
}
