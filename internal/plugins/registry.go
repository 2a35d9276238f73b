// Package plugins assembles the built-in plugin registry handed to the
// plugin manager. Each subpackage is one plugin.
package plugins

import (
	"time"

	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/plugins/cheer"
	"github.com/pinefield/focusd/internal/plugins/ledbar"
	"github.com/pinefield/focusd/internal/plugins/mailtask"
	"github.com/pinefield/focusd/internal/plugins/surface"
)

// Registry builds the built-in plugin table from config. llm may be nil;
// the mail-task plugin then runs on keyword heuristics alone.
func Registry(cfg config.Config, llm mailtask.Completer) map[string]plugin.Registration {
	return map[string]plugin.Registration{
		"ledbar": {
			Manifest: plugin.Manifest{
				Name:        "LED Progressbar",
				Version:     "1.0.0",
				Description: "Mirrors session progress on an ESP8266 LED strip",
				MainFile:    "ledbar",
			},
			New: func() plugin.Hooks {
				return ledbar.New(cfg.Serial.Port, cfg.Serial.BaudRate)
			},
		},
		"surface": {
			Manifest: plugin.Manifest{
				Name:        "Control Surface",
				Version:     "1.0.0",
				Description: "Hardware buttons for ending sessions and checking goals",
				MainFile:    "surface",
			},
			New: func() plugin.Hooks {
				// The button controller is a separate board at 9600 baud;
				// always auto-detect so it never grabs the LED bar's port.
				return surface.New("", 0)
			},
		},
		"mailtask": {
			Manifest: plugin.Manifest{
				Name:        "Email Assistant",
				Version:     "1.0.0",
				Description: "Turns actionable emails into session goals",
				MainFile:    "mailtask",
			},
			New: func() plugin.Hooks {
				fetcher := mailtask.NewIMAPFetcher(
					cfg.Mail.Server, cfg.Mail.Port, cfg.Mail.Email, cfg.Mail.Password)
				interval := time.Duration(cfg.Mail.CheckIntervalMinutes) * time.Minute
				return mailtask.New(fetcher, llm, interval)
			},
		},
		"cheer": {
			Manifest: plugin.Manifest{
				Name:        "Positive Feedback",
				Version:     "1.0.0",
				Description: "Affirmations as goal progress is made",
				MainFile:    "cheer",
			},
			New: func() plugin.Hooks { return cheer.New() },
		},
	}
}
