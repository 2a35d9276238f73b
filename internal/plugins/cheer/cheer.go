// Package cheer posts a short affirmation whenever checklist progress moves
// forward, scaled to how far through the goals the user is.
package cheer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/plugin"
)

var affirmations = []string{
	"Great job!",
	"Keep up the good work!",
	"You're making progress!",
	"Fantastic effort!",
	"You're doing amazing!",
	"Every step counts!",
	"You're on the right track!",
	"Keep pushing forward!",
	"You're getting closer to your goal!",
	"Your hard work is paying off!",
}

// Plugin is the positive-feedback plugin.
type Plugin struct {
	plugin.Base

	mu     sync.Mutex
	bus    *bus.Bus
	logger *slog.Logger
	prev   float64 // last completion percentage that triggered a cheer
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Initialize(_ context.Context, host plugin.Host) error {
	p.mu.Lock()
	p.bus = host.Bus
	p.logger = host.Logger.With("plugin", "cheer")
	p.mu.Unlock()
	return nil
}

func (p *Plugin) SessionStarted(plugin.SessionData) error {
	p.mu.Lock()
	p.prev = 0
	p.mu.Unlock()
	return nil
}

func (p *Plugin) ChecklistChanged(string, bool) error {
	progress := p.ChecklistProgress()

	p.mu.Lock()
	b := p.bus
	cheerDue := progress > p.prev && progress != 0
	if cheerDue {
		p.prev = progress
	}
	p.mu.Unlock()

	if !cheerDue || b == nil {
		return nil
	}
	idx := int(progress / 10)
	if idx >= len(affirmations) {
		idx = len(affirmations) - 1
	}
	b.Publish(bus.TopicPluginNotice, bus.NoticeEvent{
		Plugin: "cheer",
		Message: fmt.Sprintf("%s You've now completed %d%% of your session!",
			affirmations[idx], int(progress)),
	})
	return nil
}
