// Package session runs the focus-session lifecycle: one active session at a
// time, driven by a ticker loop that publishes progress, fires periodic
// check-ins, samples app usage, and dispatches plugin hooks.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/mode"
	"github.com/pinefield/focusd/internal/otel"
	"github.com/pinefield/focusd/internal/persistence"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/track"
)

// State is the session lifecycle state.
type State int

const (
	StateActive State = iota
	StateComplete
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Store is the persistence the session writes through. Satisfied by
// persistence.Store.
type Store interface {
	InsertSession(ctx context.Context, record persistence.SessionRecord) (string, error)
	FinishSession(ctx context.Context, sessionID string, early bool) error
	SetGoalChecked(ctx context.Context, sessionID string, idx int, checked bool) error
	AddSessionGoal(ctx context.Context, sessionID, text string) error
	RecordAppUsage(ctx context.Context, sessionID, app string, seconds int) error
}

// PluginHost is the slice of plugin.Manager the session drives. Satisfied by
// *plugin.Manager.
type PluginHost interface {
	SetSessionHandle(plugin.SessionHandle)
	DispatchGoalsAnalyzed(goals []string, raw string) []string
	DispatchSessionStarted(plugin.SessionData)
	DispatchSessionUpdated(elapsedMinutes, progressPercent float64)
	DispatchSessionEnded(plugin.SessionData)
	DispatchChecklistChanged(item string, checked bool)
}

// Options tunes the session tickers. Zero values pick defaults; tests
// shrink the intervals.
type Options struct {
	CheckinInterval time.Duration // periodic check-in popup cadence
	BreathSeconds   int           // breathing-exercise length suggested at check-in
	SampleInterval  time.Duration // app-usage sampling cadence
	TickInterval    time.Duration // progress tick cadence
}

func (o *Options) normalize() {
	if o.CheckinInterval <= 0 {
		o.CheckinInterval = time.Minute
	}
	if o.BreathSeconds <= 0 {
		o.BreathSeconds = 8
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = 5 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
}

type goalState struct {
	text    string
	checked bool
}

// Session is one running focus session. It implements plugin.SessionHandle
// so plugins and the assistant can read and edit the checklist.
type Session struct {
	id        string
	mode      mode.Mode
	planned   time.Duration
	startedAt time.Time

	store   Store
	plugins PluginHost
	bus     *bus.Bus
	sampler track.Sampler
	logger  *slog.Logger
	metrics *otel.Metrics
	opts    Options

	mu    sync.Mutex
	state State
	goals []goalState
	usage map[string]int // app -> accumulated seconds

	stop    chan struct{}
	done    chan struct{}
	endOnce sync.Once
}

func (s *Session) ID() string { return s.id }

func (s *Session) Mode() mode.Mode { return s.mode }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// PlannedMinutes returns the planned session length.
func (s *Session) PlannedMinutes() int { return int(s.planned / time.Minute) }

// Elapsed returns time since the session started.
func (s *Session) Elapsed() time.Duration { return time.Since(s.startedAt) }

// Remaining returns planned time left, never negative.
func (s *Session) Remaining() time.Duration {
	rem := s.planned - s.Elapsed()
	if rem < 0 {
		return 0
	}
	return rem
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has fully ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// ChecklistProgress returns the percentage of goals completed.
func (s *Session) ChecklistProgress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.goals) == 0 {
		return 0
	}
	done := 0
	for _, g := range s.goals {
		if g.checked {
			done++
		}
	}
	return float64(done) / float64(len(s.goals)) * 100
}

// AllGoals returns the checklist text in order.
func (s *Session) AllGoals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.goals))
	for i, g := range s.goals {
		out[i] = g.text
	}
	return out
}

// CompletedGoals returns the checked items in order.
func (s *Session) CompletedGoals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, g := range s.goals {
		if g.checked {
			out = append(out, g.text)
		}
	}
	return out
}

// SetGoalChecked flips one goal by text (case-insensitive). Returns false
// when no goal matches. Persists the change, publishes a checklist event,
// and notifies plugins.
func (s *Session) SetGoalChecked(item string, checked bool) bool {
	s.mu.Lock()
	idx := -1
	for i, g := range s.goals {
		if strings.EqualFold(g.text, item) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	changed := s.goals[idx].checked != checked
	s.goals[idx].checked = checked
	text := s.goals[idx].text
	completed, total := s.progressLocked()
	s.mu.Unlock()

	if !changed {
		return true
	}
	if err := s.store.SetGoalChecked(context.Background(), s.id, idx, checked); err != nil {
		s.logger.Warn("checklist change not persisted", "item", text, "error", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSessionChecklist, bus.ChecklistEvent{
			SessionID: s.id,
			Item:      text,
			Index:     idx,
			Checked:   checked,
			Completed: completed,
			Total:     total,
		})
	}
	s.plugins.DispatchChecklistChanged(text, checked)
	if s.metrics != nil && s.metrics.ChecklistChanges != nil {
		s.metrics.ChecklistChanges.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Bool("checked", checked)))
	}
	return true
}

// AddGoal appends a new unchecked item. Returns false on duplicates
// (case-insensitive).
func (s *Session) AddGoal(item string) bool {
	item = strings.TrimSpace(item)
	if item == "" {
		return false
	}
	s.mu.Lock()
	for _, g := range s.goals {
		if strings.EqualFold(g.text, item) {
			s.mu.Unlock()
			return false
		}
	}
	s.goals = append(s.goals, goalState{text: item})
	idx := len(s.goals) - 1
	completed, total := s.progressLocked()
	s.mu.Unlock()

	if err := s.store.AddSessionGoal(context.Background(), s.id, item); err != nil {
		s.logger.Warn("new goal not persisted", "item", item, "error", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSessionChecklist, bus.ChecklistEvent{
			SessionID: s.id,
			Item:      item,
			Index:     idx,
			Checked:   false,
			Completed: completed,
			Total:     total,
		})
	}
	return true
}

func (s *Session) progressLocked() (completed, total int) {
	for _, g := range s.goals {
		if g.checked {
			completed++
		}
	}
	return completed, len(s.goals)
}

// End terminates the session. Idempotent; safe from any goroutine.
func (s *Session) End(early bool) {
	s.endOnce.Do(func() { s.end(early) })
}

func (s *Session) end(early bool) {
	s.mu.Lock()
	if early {
		s.state = StateStopped
	} else {
		s.state = StateComplete
	}
	s.mu.Unlock()

	close(s.stop)

	ctx := context.Background()
	if err := s.store.FinishSession(ctx, s.id, early); err != nil {
		s.logger.Warn("session end not persisted", "session", s.id, "error", err)
	}
	s.plugins.DispatchSessionEnded(s.snapshot(early))
	s.plugins.SetSessionHandle(nil)

	if s.metrics != nil {
		if s.metrics.SessionsEnded != nil {
			s.metrics.SessionsEnded.Add(ctx, 1,
				metric.WithAttributes(attribute.Bool("early", early)))
		}
		if s.metrics.SessionDuration != nil {
			s.metrics.SessionDuration.Record(ctx, s.Elapsed().Seconds())
		}
	}
	s.logger.Info("session ended",
		"session", s.id, "mode", s.mode.Name, "early", early,
		"elapsed", s.Elapsed().Round(time.Second).String())
	close(s.done)
}

// snapshot builds the SessionData handed to plugin hooks.
func (s *Session) snapshot(early bool) plugin.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := plugin.SessionData{
		ID:               s.id,
		Mode:             s.mode.Name,
		PlannedMinutes:   int(s.planned / time.Minute),
		StartedAt:        s.startedAt,
		EarlyTermination: early,
		AppUsage:         make(map[string]int, len(s.usage)),
	}
	// EndedAt stays zero until the session actually ends.
	if s.state != StateActive {
		data.EndedAt = time.Now()
	}
	for _, g := range s.goals {
		data.Goals = append(data.Goals, g.text)
		if g.checked {
			data.CompletedGoals = append(data.CompletedGoals, g.text)
		}
	}
	for app, secs := range s.usage {
		data.AppUsage[app] = secs
	}
	return data
}

// run is the session ticker loop. It owns progress, check-in, and usage
// sampling until the session ends.
func (s *Session) run() {
	tick := time.NewTicker(s.opts.TickInterval)
	checkin := time.NewTicker(s.opts.CheckinInterval)
	sample := time.NewTicker(s.opts.SampleInterval)
	defer tick.Stop()
	defer checkin.Stop()
	defer sample.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-tick.C:
			if s.progressTick() {
				s.End(false)
				return
			}
		case <-checkin.C:
			s.checkinTick()
		case <-sample.C:
			s.sampleTick()
		}
	}
}

// progressTick publishes progress and reports whether planned time is up.
func (s *Session) progressTick() (finished bool) {
	elapsed := s.Elapsed()
	remaining := s.planned - elapsed
	percent := 0
	if s.planned > 0 {
		percent = int(elapsed * 100 / s.planned)
		if percent > 100 {
			percent = 100
		}
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicSessionProgress, bus.SessionProgressEvent{
			SessionID:     s.id,
			ElapsedSecs:   int(elapsed / time.Second),
			RemainingSecs: max(int(remaining/time.Second), 0),
			Percent:       percent,
		})
	}
	s.plugins.DispatchSessionUpdated(elapsed.Minutes(), float64(percent))
	return remaining <= 0
}

func (s *Session) checkinTick() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.TopicSessionCheckin, bus.SessionCheckinEvent{
		SessionID:   s.id,
		ElapsedSecs: int(s.Elapsed() / time.Second),
		BreathSecs:  s.opts.BreathSeconds,
	})
}

// sampleTick charges one sample interval of usage to every tracked app
// currently running. Only apps named by the mode profile are tracked.
func (s *Session) sampleTick() {
	if s.sampler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SampleInterval)
	defer cancel()
	running, err := s.sampler.RunningApps(ctx)
	if err != nil {
		s.logger.Debug("app sample failed", "error", err)
		return
	}

	tracked := make(map[string]bool, len(s.mode.AllowedApps)+len(s.mode.BlockedApps))
	for _, app := range s.mode.AllowedApps {
		tracked[strings.ToLower(app)] = true
	}
	for _, app := range s.mode.BlockedApps {
		tracked[strings.ToLower(app)] = true
	}

	secs := int(s.opts.SampleInterval / time.Second)
	if secs < 1 {
		secs = 1
	}
	for _, app := range running {
		if len(tracked) > 0 && !tracked[strings.ToLower(app)] {
			continue
		}
		s.mu.Lock()
		if s.usage == nil {
			s.usage = map[string]int{}
		}
		s.usage[app] += secs
		s.mu.Unlock()
		if err := s.store.RecordAppUsage(context.Background(), s.id, app, secs); err != nil {
			s.logger.Debug("app usage not persisted", "app", app, "error", err)
		}
	}
}
