package enforce

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pinefield/focusd/internal/mode"
	"github.com/pinefield/focusd/internal/track"
)

// Closer terminates an application by name. Satisfied by track.System.
type Closer interface {
	CloseApp(ctx context.Context, name string) error
}

// Config controls enforcement behavior for one session.
type Config struct {
	// Strict also terminates running user apps missing from the mode's
	// allowed list, not just the explicitly blocked ones.
	Strict bool
	// ApplyHosts enables hosts-file rewriting (needs write access to
	// HostsPath, usually root).
	ApplyHosts bool
	HostsPath  string
	// SampleInterval is how often running apps are re-checked.
	SampleInterval time.Duration
}

// Enforcer polices one focus mode for the duration of a session.
type Enforcer struct {
	cfg     Config
	mode    mode.Mode
	sampler track.Sampler
	closer  Closer
	logger  *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	applied bool
}

// New builds an enforcer for the given mode.
func New(cfg Config, m mode.Mode, sampler track.Sampler, closer Closer, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	return &Enforcer{
		cfg:     cfg,
		mode:    m,
		sampler: sampler,
		closer:  closer,
		logger:  logger.With("component", "enforce"),
	}
}

// Start applies the hosts block and begins the app-termination loop.
func (e *Enforcer) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stop != nil {
		e.mu.Unlock()
		return nil
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	if e.cfg.ApplyHosts && len(e.mode.BlockedSites) > 0 {
		if err := ApplyHostsBlock(e.cfg.HostsPath, e.mode.BlockedSites); err != nil {
			e.logger.Warn("hosts block not applied", "path", e.cfg.HostsPath, "error", err)
		} else {
			e.mu.Lock()
			e.applied = true
			e.mu.Unlock()
			e.logger.Info("hosts block applied", "path", e.cfg.HostsPath, "domains", len(e.mode.BlockedSites))
		}
	}

	go e.loop(ctx, stop, done)
	return nil
}

// Stop ends the loop and releases the hosts block.
func (e *Enforcer) Stop() {
	e.mu.Lock()
	if e.stop == nil {
		e.mu.Unlock()
		return
	}
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	applied := e.applied
	e.applied = false
	e.mu.Unlock()

	close(stop)
	<-done

	if applied {
		if err := ReleaseHostsBlock(e.cfg.HostsPath); err != nil {
			e.logger.Error("hosts block not released", "path", e.cfg.HostsPath, "error", err)
		} else {
			e.logger.Info("hosts block released", "path", e.cfg.HostsPath)
		}
	}
}

func (e *Enforcer) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Enforcer) tick(ctx context.Context) {
	running, err := e.sampler.RunningApps(ctx)
	if err != nil {
		e.logger.Warn("app sample failed", "error", err)
		return
	}
	var installed []string
	if e.cfg.Strict {
		installed, err = e.sampler.InstalledApps(ctx)
		if err != nil {
			e.logger.Warn("installed app listing failed", "error", err)
		}
	}
	for _, app := range Violations(running, installed, e.mode, e.cfg.Strict) {
		if err := e.closer.CloseApp(ctx, app); err != nil {
			e.logger.Warn("blocked app not closed", "app", app, "error", err)
			continue
		}
		e.logger.Info("blocked app closed", "app", app, "mode", e.mode.Name)
	}
}

// Violations returns the running apps that the mode forbids. Explicitly
// blocked apps are always violations. In strict mode, installed user apps
// missing from the allowed list are violations too; processes outside the
// installed list (system daemons, shells) are never touched.
func Violations(running, installed []string, m mode.Mode, strict bool) []string {
	blocked := nameSet(m.BlockedApps)
	allowed := nameSet(m.AllowedApps)
	installedSet := nameSet(installed)

	var out []string
	for _, app := range running {
		key := appKey(app)
		if _, ok := blocked[key]; ok {
			out = append(out, app)
			continue
		}
		if !strict || len(allowed) == 0 {
			continue
		}
		if _, ok := installedSet[key]; !ok {
			continue
		}
		if _, ok := allowed[key]; !ok {
			out = append(out, app)
		}
	}
	return out
}

func appKey(name string) string {
	return strings.ToLower(track.NormalizeAppName(name))
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[appKey(n)] = struct{}{}
	}
	return set
}
