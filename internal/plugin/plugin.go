// Package plugin implements the hook-dispatch system that lets optional
// extensions observe and mutate focus sessions. Plugins are compiled in and
// registered statically; a manifest.json per plugin directory describes them
// and a JSON settings file records which ones the user has enabled.
package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pinefield/focusd/internal/bus"
)

// SessionHandle is the view of the running session that plugins (and the
// assistant) use to inspect and mutate the goal checklist. The host installs
// a handle when a session starts and clears it when the session ends.
type SessionHandle interface {
	// ChecklistProgress returns the completion percentage, 0 to 100.
	ChecklistProgress() float64
	// AllGoals returns every goal in session order.
	AllGoals() []string
	// CompletedGoals returns the goals currently checked off.
	CompletedGoals() []string
	// SetGoalChecked checks or unchecks the named goal. It reports whether
	// the goal exists.
	SetGoalChecked(item string, checked bool) bool
	// AddGoal appends a new goal to the running session. It reports whether
	// the goal was added (false for duplicates or an ended session).
	AddGoal(item string) bool
}

// SessionData is the snapshot passed to session lifecycle hooks.
type SessionData struct {
	ID               string
	Mode             string
	PlannedMinutes   int
	Goals            []string
	CompletedGoals   []string
	AppUsage         map[string]int // seconds of foreground time per app
	StartedAt        time.Time
	EndedAt          time.Time // zero at session start
	EarlyTermination bool
}

// Host gives plugins access to shared process services during Initialize.
type Host struct {
	Logger  *slog.Logger
	Bus     *bus.Bus
	HomeDir string
}

// Hooks is the full set of callbacks a plugin may implement. Embed Base to
// pick up no-op defaults and override only the hooks you need.
type Hooks interface {
	// Initialize prepares the plugin for use. A plugin that returns an
	// error is not loaded and receives no further calls.
	Initialize(ctx context.Context, host Host) error
	// Cleanup releases plugin resources. Called once when the plugin is
	// disabled or the process shuts down.
	Cleanup() error

	// GoalsAnalyzed may rewrite the goal list before a session starts.
	// Each enabled plugin receives the previous plugin's output.
	GoalsAnalyzed(goals []string, raw string) []string
	// SessionStarted is called when a focus session begins.
	SessionStarted(data SessionData) error
	// SessionUpdated is called roughly once per second while a session runs.
	SessionUpdated(elapsedMinutes, progressPercent float64) error
	// SessionEnded is called when a session completes or is stopped early.
	SessionEnded(data SessionData) error
	// ChecklistChanged is called when a goal is checked or unchecked.
	ChecklistChanged(item string, checked bool) error
}

// sessionAware is satisfied by plugins that embed Base; the manager uses it
// to install the active session handle after load.
type sessionAware interface {
	SetSession(SessionHandle)
}

// Base provides no-op hook implementations and safe session accessors that
// return zero values when no session is active.
type Base struct {
	mu      sync.Mutex
	session SessionHandle
}

func (b *Base) Initialize(ctx context.Context, host Host) error { return nil }

func (b *Base) Cleanup() error { return nil }

func (b *Base) GoalsAnalyzed(goals []string, raw string) []string { return goals }

func (b *Base) SessionStarted(SessionData) error { return nil }

func (b *Base) SessionUpdated(elapsedMinutes, progressPercent float64) error { return nil }

func (b *Base) SessionEnded(SessionData) error { return nil }

func (b *Base) ChecklistChanged(item string, checked bool) error { return nil }

// SetSession installs or clears (nil) the active session handle.
func (b *Base) SetSession(s SessionHandle) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

// Session returns the active session handle, or nil outside a session.
func (b *Base) Session() SessionHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// ChecklistProgress returns the checklist completion percentage, or 0 when
// no session is active.
func (b *Base) ChecklistProgress() float64 {
	if s := b.Session(); s != nil {
		return s.ChecklistProgress()
	}
	return 0
}

// AllGoals returns the session's goals, or nil when no session is active.
func (b *Base) AllGoals() []string {
	if s := b.Session(); s != nil {
		return s.AllGoals()
	}
	return nil
}

// CompletedGoals returns the checked goals, or nil when no session is active.
func (b *Base) CompletedGoals() []string {
	if s := b.Session(); s != nil {
		return s.CompletedGoals()
	}
	return nil
}

// SetGoalChecked checks or unchecks a goal. Returns false when no session is
// active or the goal does not exist.
func (b *Base) SetGoalChecked(item string, checked bool) bool {
	if s := b.Session(); s != nil {
		return s.SetGoalChecked(item, checked)
	}
	return false
}

// AddGoal appends a goal to the running session. Returns false when no
// session is active.
func (b *Base) AddGoal(item string) bool {
	if s := b.Session(); s != nil {
		return s.AddGoal(item)
	}
	return false
}
