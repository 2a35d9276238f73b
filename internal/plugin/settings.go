package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Popup interval bounds, in minutes.
const (
	minPopupInterval = 1
	maxPopupInterval = 60
)

// AppSettings holds knobs shared between the session host and plugins.
type AppSettings struct {
	// PopupIntervalMinutes controls how often the check-in prompt appears.
	PopupIntervalMinutes int `json:"popup_interval_minutes"`
	// BreathDurationSeconds controls the breathing exercise length shown
	// before a session starts (one 4s-in/4s-out cycle by default).
	BreathDurationSeconds int `json:"breath_duration_seconds"`
}

// Settings is the persisted plugin state: which plugins the user enabled,
// in enable order, plus shared app settings.
type Settings struct {
	EnabledPlugins []string    `json:"enabled_plugins"`
	AppSettings    AppSettings `json:"app_settings"`
}

// DefaultSettings returns settings for a fresh install: no plugins enabled.
func DefaultSettings() Settings {
	return Settings{
		EnabledPlugins: []string{},
		AppSettings: AppSettings{
			PopupIntervalMinutes:  1,
			BreathDurationSeconds: 8,
		},
	}
}

// SettingsPath returns the plugin settings file under the state directory.
func SettingsPath(homeDir string) string {
	return filepath.Join(homeDir, "plugin_settings.json")
}

// LoadSettings reads the settings file. A missing file yields defaults with
// no error; a corrupt file yields defaults AND an error so the caller can
// log it and continue.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("read plugin settings: %w", err)
	}
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse plugin settings: %w", err)
	}
	s.normalize()
	return s, nil
}

// SaveSettings writes the settings file atomically (temp file + rename).
func SaveSettings(path string, s Settings) error {
	s.normalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plugin settings: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write plugin settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename plugin settings: %w", err)
	}
	return nil
}

// Enabled reports whether the given plugin id is in the enabled list.
func (s *Settings) Enabled(id string) bool {
	for _, e := range s.EnabledPlugins {
		if e == id {
			return true
		}
	}
	return false
}

func (s *Settings) normalize() {
	if s.EnabledPlugins == nil {
		s.EnabledPlugins = []string{}
	}
	if s.AppSettings.PopupIntervalMinutes < minPopupInterval {
		s.AppSettings.PopupIntervalMinutes = minPopupInterval
	}
	if s.AppSettings.PopupIntervalMinutes > maxPopupInterval {
		s.AppSettings.PopupIntervalMinutes = maxPopupInterval
	}
	if s.AppSettings.BreathDurationSeconds <= 0 {
		s.AppSettings.BreathDurationSeconds = 8
	}
}
