package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/mode"
	"github.com/pinefield/focusd/internal/otel"
	"github.com/pinefield/focusd/internal/persistence"
	"github.com/pinefield/focusd/internal/track"
)

// ErrSessionActive is returned by Start when a session is already running.
var ErrSessionActive = errors.New("a focus session is already active")

// Host runs at most one focus session at a time. It honors stop requests
// published on the bus (hardware buttons, the TUI quit path).
type Host struct {
	store   Store
	plugins PluginHost
	bus     *bus.Bus
	sampler track.Sampler
	logger  *slog.Logger
	metrics *otel.Metrics

	mu     sync.Mutex
	active *Session

	stopSub  *bus.Subscription
	stopDone chan struct{}
}

// NewHost wires a session host. Call Close to release the bus subscription.
func NewHost(store Store, plugins PluginHost, eventBus *bus.Bus, sampler track.Sampler, logger *slog.Logger, metrics *otel.Metrics) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		store:   store,
		plugins: plugins,
		bus:     eventBus,
		sampler: sampler,
		logger:  logger.With("component", "session"),
		metrics: metrics,
	}
	if eventBus != nil {
		h.stopSub = eventBus.Subscribe(bus.TopicSessionStopRequest)
		h.stopDone = make(chan struct{})
		go h.watchStopRequests()
	}
	return h
}

func (h *Host) watchStopRequests() {
	defer close(h.stopDone)
	for event := range h.stopSub.Ch() {
		req, ok := event.Payload.(bus.StopRequestEvent)
		if !ok {
			continue
		}
		if s := h.Active(); s != nil {
			h.logger.Info("stop requested", "source", req.Source, "reason", req.Reason)
			s.End(true)
		}
	}
}

// Start begins a session: runs the plugin goals fold, persists the session,
// installs the checklist handle, dispatches the start hook, and launches the
// ticker loop. rawGoals is the user's unparsed goals text, handed to plugins
// that want the original phrasing.
func (h *Host) Start(ctx context.Context, profile mode.Mode, minutes int, goals []string, rawGoals string, opts Options) (*Session, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("session length must be positive, got %d minutes", minutes)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil && h.active.State() == StateActive {
		return nil, ErrSessionActive
	}

	goals = h.plugins.DispatchGoalsAnalyzed(goals, rawGoals)

	record := persistence.SessionRecord{
		Mode:           profile.Name,
		PlannedMinutes: minutes,
	}
	for _, g := range goals {
		record.Goals = append(record.Goals, persistence.GoalRecord{Text: g})
	}
	id, err := h.store.InsertSession(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	opts.normalize()
	s := &Session{
		id:        id,
		mode:      profile,
		planned:   time.Duration(minutes) * time.Minute,
		startedAt: time.Now(),
		store:     h.store,
		plugins:   h.plugins,
		bus:       h.bus,
		sampler:   h.sampler,
		logger:    h.logger,
		metrics:   h.metrics,
		opts:      opts,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, g := range goals {
		s.goals = append(s.goals, goalState{text: g})
	}
	h.active = s

	h.plugins.SetSessionHandle(s)
	if h.bus != nil {
		h.bus.Publish(bus.TopicSessionStarted, bus.SessionStartedEvent{
			SessionID: id,
			Mode:      profile.Name,
			Minutes:   minutes,
			Goals:     goals,
		})
	}
	h.plugins.DispatchSessionStarted(s.snapshot(false))
	if h.metrics != nil && h.metrics.SessionsStarted != nil {
		h.metrics.SessionsStarted.Add(ctx, 1)
	}
	h.logger.Info("session started",
		"session", id, "mode", profile.Name, "minutes", minutes, "goals", len(goals))

	go s.run()
	return s, nil
}

// Active returns the running session, or nil.
func (h *Host) Active() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil || h.active.State() != StateActive {
		return nil
	}
	return h.active
}

// Stop ends the running session early. No-op when idle.
func (h *Host) Stop() {
	if s := h.Active(); s != nil {
		s.End(true)
		<-s.Done()
	}
}

// Close stops any running session and releases the bus subscription.
func (h *Host) Close() {
	h.Stop()
	if h.stopSub != nil {
		h.bus.Unsubscribe(h.stopSub)
		<-h.stopDone
	}
}
