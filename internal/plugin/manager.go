package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pinefield/focusd/internal/otel"
)

// Factory constructs a fresh plugin instance.
type Factory func() Hooks

// Registration binds a plugin id to its constructor and its built-in
// manifest, used to seed the plugin directory on first run.
type Registration struct {
	Manifest Manifest
	New      Factory
}

// Manager owns plugin discovery, the enabled set, and hook dispatch.
// Dispatch order is the order plugins were enabled; a plugin only receives
// hooks while it is both enabled and successfully initialized. One plugin
// failing (error or panic) never prevents later plugins from running.
type Manager struct {
	pluginsDir   string
	settingsPath string
	registry     map[string]Registration
	host         Host
	logger       *slog.Logger
	metrics      *otel.Metrics

	mu        sync.Mutex
	available map[string]Manifest
	loaded    map[string]Hooks
	settings  Settings
	session   SessionHandle
}

// NewManager builds a manager rooted at homeDir (plugins live under
// homeDir/plugins, settings in homeDir/plugin_settings.json). A corrupt
// settings file is logged and replaced with defaults.
func NewManager(homeDir string, registry map[string]Registration, host Host, metrics *otel.Metrics) *Manager {
	logger := host.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		pluginsDir:   filepath.Join(homeDir, "plugins"),
		settingsPath: SettingsPath(homeDir),
		registry:     registry,
		host:         host,
		logger:       logger.With("component", "plugin"),
		metrics:      metrics,
		available:    make(map[string]Manifest),
		loaded:       make(map[string]Hooks),
	}
	settings, err := LoadSettings(m.settingsPath)
	if err != nil {
		m.logger.Warn("plugin settings unreadable; using defaults", "path", m.settingsPath, "error", err)
	}
	m.settings = settings
	return m
}

// EnsureManifests creates the plugin directory and writes a manifest.json
// for every registered plugin that does not have one yet. Existing manifests
// are left alone so users can edit descriptions.
func (m *Manager) EnsureManifests() error {
	if err := os.MkdirAll(m.pluginsDir, 0o755); err != nil {
		return fmt.Errorf("create plugins dir: %w", err)
	}
	var errs []error
	for id, reg := range m.registry {
		dir := filepath.Join(m.pluginsDir, id)
		path := filepath.Join(dir, "manifest.json")
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("stat manifest (%s): %w", id, err))
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create plugin dir (%s): %w", id, err))
			continue
		}
		if err := WriteManifest(path, reg.Manifest); err != nil {
			errs = append(errs, fmt.Errorf("seed manifest (%s): %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Discover scans the plugin directory for manifests. Directories with a
// broken or unreadable manifest are logged and skipped; Discover only
// fails when the plugins directory itself cannot be read.
func (m *Manager) Discover(ctx context.Context) error {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugins dir (%s): %w", m.pluginsDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	found := make(map[string]Manifest)
	for _, ent := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ent.IsDir() {
			continue
		}
		id := ent.Name()
		manifestPath := filepath.Join(m.pluginsDir, id, "manifest.json")
		if _, err := os.Stat(manifestPath); err != nil {
			if !os.IsNotExist(err) {
				m.logger.Warn("skipping plugin with unreadable manifest", "plugin", id, "error", err)
			}
			continue
		}
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			m.logger.Warn("skipping plugin with broken manifest", "plugin", id, "error", err)
			continue
		}
		if _, ok := m.registry[id]; !ok {
			m.logger.Warn("plugin directory has no registered implementation", "plugin", id)
		}
		found[id] = manifest
	}

	m.mu.Lock()
	m.available = found
	m.mu.Unlock()
	return nil
}

// LoadEnabled initializes every enabled plugin in enable order. Failures
// are logged and skipped; the plugin stays enabled in settings so a later
// restart can retry it.
func (m *Manager) LoadEnabled(ctx context.Context) {
	m.mu.Lock()
	ids := slices.Clone(m.settings.EnabledPlugins)
	m.mu.Unlock()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := m.load(ctx, id); err != nil {
			m.logger.Error("plugin failed to load", "plugin", id, "error", err)
			m.countError(id, "initialize")
		}
	}
}

// load initializes the plugin with the given id if it is not loaded yet.
// Callers must NOT hold m.mu.
func (m *Manager) load(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.loaded[id]; ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.available[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q not discovered", id)
	}
	reg, ok := m.registry[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q has no registered implementation", id)
	}

	instance := reg.New()
	if err := instance.Initialize(ctx, m.host); err != nil {
		return fmt.Errorf("initialize plugin %q: %w", id, err)
	}

	m.mu.Lock()
	if sa, ok := instance.(sessionAware); ok && m.session != nil {
		sa.SetSession(m.session)
	}
	m.loaded[id] = instance
	m.mu.Unlock()

	m.logger.Info("plugin loaded", "plugin", id, "version", reg.Manifest.Version)
	return nil
}

// Enable turns a plugin on, loading it first if needed, and persists the
// settings file. Enabling an already-enabled plugin is a no-op. A plugin
// whose Initialize fails is not added to the enabled set.
func (m *Manager) Enable(ctx context.Context, id string) error {
	if err := m.load(ctx, id); err != nil {
		m.countError(id, "initialize")
		return err
	}

	m.mu.Lock()
	if m.settings.Enabled(id) {
		m.mu.Unlock()
		return nil
	}
	m.settings.EnabledPlugins = append(m.settings.EnabledPlugins, id)
	settings := m.settings
	m.mu.Unlock()

	m.logger.Info("plugin enabled", "plugin", id)
	if err := SaveSettings(m.settingsPath, settings); err != nil {
		return fmt.Errorf("persist plugin settings: %w", err)
	}
	return nil
}

// Disable turns a plugin off, runs its Cleanup exactly once, and persists
// the settings file. Disabling a plugin that is not enabled is a no-op.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	if !m.settings.Enabled(id) {
		m.mu.Unlock()
		return nil
	}
	m.settings.EnabledPlugins = slices.DeleteFunc(m.settings.EnabledPlugins, func(e string) bool { return e == id })
	instance := m.loaded[id]
	delete(m.loaded, id)
	settings := m.settings
	m.mu.Unlock()

	if instance != nil {
		m.runHook(id, "cleanup", func() error { return instance.Cleanup() })
	}

	m.logger.Info("plugin disabled", "plugin", id)
	if err := SaveSettings(m.settingsPath, settings); err != nil {
		return fmt.Errorf("persist plugin settings: %w", err)
	}
	return nil
}

// Available returns the discovered manifests keyed by plugin id.
func (m *Manager) Available() map[string]Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Manifest, len(m.available))
	for id, manifest := range m.available {
		out[id] = manifest
	}
	return out
}

// Enabled reports whether the given plugin id is enabled.
func (m *Manager) Enabled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Enabled(id)
}

// EnabledIDs returns the enabled plugin ids in dispatch order.
func (m *Manager) EnabledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.settings.EnabledPlugins)
}

// Settings returns a copy of the current settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings
	s.EnabledPlugins = slices.Clone(s.EnabledPlugins)
	return s
}

// UpdateAppSettings replaces the shared app settings and persists them.
func (m *Manager) UpdateAppSettings(app AppSettings) error {
	m.mu.Lock()
	m.settings.AppSettings = app
	m.settings.normalize()
	settings := m.settings
	m.mu.Unlock()
	if err := SaveSettings(m.settingsPath, settings); err != nil {
		return fmt.Errorf("persist plugin settings: %w", err)
	}
	return nil
}

// SetSessionHandle installs (or clears, with nil) the active session on
// every loaded plugin that embeds Base.
func (m *Manager) SetSessionHandle(s SessionHandle) {
	m.mu.Lock()
	m.session = s
	instances := make([]Hooks, 0, len(m.loaded))
	for _, p := range m.loaded {
		instances = append(instances, p)
	}
	m.mu.Unlock()
	for _, p := range instances {
		if sa, ok := p.(sessionAware); ok {
			sa.SetSession(s)
		}
	}
}

// DispatchGoalsAnalyzed folds the goal list through every enabled plugin in
// order; each plugin receives the previous plugin's output. A plugin that
// panics is skipped and the list it received is passed on unchanged.
func (m *Manager) DispatchGoalsAnalyzed(goals []string, raw string) []string {
	result := slices.Clone(goals)
	for _, target := range m.dispatchTargets() {
		prev := result
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("plugin panicked in hook", "plugin", target.id, "hook", "goals_analyzed", "panic", r)
					m.countError(target.id, "goals_analyzed")
					result = prev
				}
			}()
			result = target.plugin.GoalsAnalyzed(result, raw)
		}()
		m.countDispatch(target.id, "goals_analyzed")
	}
	return result
}

// DispatchSessionStarted notifies every enabled plugin that a session began.
func (m *Manager) DispatchSessionStarted(data SessionData) {
	for _, target := range m.dispatchTargets() {
		p := target.plugin
		m.runHook(target.id, "session_started", func() error { return p.SessionStarted(data) })
	}
}

// DispatchSessionUpdated notifies every enabled plugin of session progress.
func (m *Manager) DispatchSessionUpdated(elapsedMinutes, progressPercent float64) {
	for _, target := range m.dispatchTargets() {
		p := target.plugin
		m.runHook(target.id, "session_updated", func() error {
			return p.SessionUpdated(elapsedMinutes, progressPercent)
		})
	}
}

// DispatchSessionEnded notifies every enabled plugin that a session ended.
func (m *Manager) DispatchSessionEnded(data SessionData) {
	for _, target := range m.dispatchTargets() {
		p := target.plugin
		m.runHook(target.id, "session_ended", func() error { return p.SessionEnded(data) })
	}
}

// DispatchChecklistChanged notifies every enabled plugin of a goal change.
func (m *Manager) DispatchChecklistChanged(item string, checked bool) {
	for _, target := range m.dispatchTargets() {
		p := target.plugin
		m.runHook(target.id, "checklist_changed", func() error {
			return p.ChecklistChanged(item, checked)
		})
	}
}

// CleanupAll runs Cleanup on every loaded plugin, for process shutdown.
// Plugins stay enabled in settings.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	instances := make(map[string]Hooks, len(m.loaded))
	for id, p := range m.loaded {
		instances[id] = p
	}
	m.loaded = make(map[string]Hooks)
	m.mu.Unlock()
	for id, p := range instances {
		m.runHook(id, "cleanup", func() error { return p.Cleanup() })
	}
}

type dispatchTarget struct {
	id     string
	plugin Hooks
}

// dispatchTargets snapshots the enabled AND loaded plugins in enable order,
// so hooks run outside the manager lock.
func (m *Manager) dispatchTargets() []dispatchTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := make([]dispatchTarget, 0, len(m.settings.EnabledPlugins))
	for _, id := range m.settings.EnabledPlugins {
		if p, ok := m.loaded[id]; ok {
			targets = append(targets, dispatchTarget{id: id, plugin: p})
		}
	}
	return targets
}

// runHook invokes one plugin hook, recovering panics and logging errors so
// one plugin's failure never stops the others.
func (m *Manager) runHook(id, hook string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin panicked in hook", "plugin", id, "hook", hook, "panic", r)
			m.countError(id, hook)
		}
	}()
	m.countDispatch(id, hook)
	if err := fn(); err != nil {
		m.logger.Error("plugin hook failed", "plugin", id, "hook", hook, "error", err)
		m.countError(id, hook)
	}
}

func (m *Manager) countDispatch(id, hook string) {
	if m.metrics == nil || m.metrics.HookDispatches == nil {
		return
	}
	m.metrics.HookDispatches.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("plugin", id), attribute.String("hook", hook)))
}

func (m *Manager) countError(id, hook string) {
	if m.metrics == nil || m.metrics.PluginErrors == nil {
		return
	}
	m.metrics.PluginErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("plugin", id), attribute.String("hook", hook)))
}
