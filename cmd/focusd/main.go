package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/pinefield/focusd/internal/agent"
	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/cron"
	"github.com/pinefield/focusd/internal/enforce"
	"github.com/pinefield/focusd/internal/goals"
	"github.com/pinefield/focusd/internal/mode"
	otelPkg "github.com/pinefield/focusd/internal/otel"
	"github.com/pinefield/focusd/internal/persistence"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/plugins"
	"github.com/pinefield/focusd/internal/plugins/mailtask"
	"github.com/pinefield/focusd/internal/provider"
	"github.com/pinefield/focusd/internal/session"
	"github.com/pinefield/focusd/internal/telemetry"
	"github.com/pinefield/focusd/internal/track"
	"github.com/pinefield/focusd/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

INTERACTIVE MODE (default):
  %s                          Pick a mode and start a focus session (TUI)

DAEMON MODE:
  %s -daemon                  Run plugins and scheduled sessions, no TUI

SUBCOMMANDS:
  %s start [options]          Start a session without the wizard
                              Options: -mode <name> -minutes <n> -goals <text>
  %s modes <action>           Manage focus modes
                              Actions: list, show, new, categorize, rm
  %s plugins [enable|disable <id>|settings]
                              List plugins, toggle one, or tune app settings
  %s schedule <action>        Manage recurring sessions
                              Actions: list, add, rm
  %s status                   Show recent session history
  %s stop                     Stop the running focusd instance
  %s config <action>          Actions: path, set-provider, set-key
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  FOCUSD_HOME             Data directory (default: ~/.focusd)
  FOCUSD_NO_TUI           Set to 1 to disable the TUI (use with -daemon)
  GROQ_API_KEY            Enables the assistant with the groq provider
  GEMINI_API_KEY          Enables the assistant with the gemini provider

EXAMPLES:
  Interactive session:    %s
  Timed session:          %s start -mode productivity -minutes 45
  Daemon with schedules:  %s -daemon
  Run diagnostics:        %s doctor
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("FOCUSD_NO_TUI") == ""
	daemon := flag.Bool("daemon", false, "run in daemon mode (plugins and schedules only, no TUI)")
	flag.Usage = printUsage
	flag.Parse()

	if *daemon {
		interactive = false
	}

	// Quiet logs (file-only) in interactive mode so the TUI stays clean.
	quietLogs := interactive

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI subcommands (non-daemon actions).
	var startReq *cron.StartRequest
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "modes":
			os.Exit(runModesCommand(ctx, args[1:]))
		case "plugins":
			os.Exit(runPluginsCommand(ctx, args[1:]))
		case "schedule":
			os.Exit(runScheduleCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "stop":
			os.Exit(runStopCommand(args[1:]))
		case "config":
			os.Exit(runConfigCommand(args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "start":
			req, err := parseStartArgs(args[1:])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
			startReq = req
			interactive = false
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	if cfg.NeedsGenesis {
		// First run: persist a config.yaml with defaults so the user has a
		// file to edit, then reload.
		if err := config.SetProvider(cfg.HomeDir, cfg.LLM.Provider); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "home", cfg.HomeDir)
		cfg, err = config.Load()
		if err != nil {
			fatalStartup(logger, "E_CONFIG_RELOAD", err)
		}
	}

	modeLib := mode.NewLibrary(cfg.HomeDir, logger)
	if err := modeLib.EnsureDefaults(); err != nil {
		fatalStartup(logger, "E_MODES_BOOTSTRAP", err)
	}

	// Create the event bus early so it can be passed to the store.
	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Metrics.Enabled,
		Exporter:    cfg.Metrics.Exporter,
		Endpoint:    cfg.Metrics.Endpoint,
		ServiceName: cfg.Metrics.ServiceName,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	removePID, err := writePIDFile(cfg.HomeDir)
	if err != nil {
		logger.Warn("pid file not written; 'focusd stop' unavailable", "error", err)
	} else {
		defer removePID()
	}

	dbPath := filepath.Join(cfg.HomeDir, "focusd.db")
	store, err := persistence.Open(dbPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	llm, modelName := buildLLM(cfg, store, logger, metrics)
	var completer mailtask.Completer
	if llm != nil {
		completer = provider.SingleShot{Provider: llm}
	}

	manager := plugin.NewManager(cfg.HomeDir, plugins.Registry(cfg, completer), plugin.Host{
		Logger:  logger,
		Bus:     eventBus,
		HomeDir: cfg.HomeDir,
	}, metrics)
	if err := manager.EnsureManifests(); err != nil {
		fatalStartup(logger, "E_PLUGIN_MANIFESTS", err)
	}
	if err := manager.Discover(ctx); err != nil {
		fatalStartup(logger, "E_PLUGIN_DISCOVER", err)
	}
	manager.LoadEnabled(ctx)
	defer manager.CleanupAll()
	logger.Info("startup phase", "phase", "plugins_loaded", "enabled", manager.EnabledIDs())

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("state file watcher unavailable", "error", err)
	} else {
		go watchStateFiles(ctx, watcher, cfg.HomeDir, manager, logger)
	}

	sampler := track.System{}
	host := session.NewHost(store, manager, eventBus, sampler, logger, metrics)
	defer host.Close()

	var assistant *agent.Agent
	if llm != nil {
		assistant = agent.New(llm, store, sampler, sampler, func() agent.SessionInfo {
			// An explicit nil check: returning host.Active() directly would
			// produce a non-nil interface wrapping a nil *Session.
			if s := host.Active(); s != nil {
				return s
			}
			return nil
		}, eventBus, logger, metrics, agent.Options{
			Timeout:         time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
			MaxHistoryTurns: cfg.Agent.MaxHistoryTurns,
		})
	} else {
		logger.Warn("no LLM API key configured; assistant disabled",
			"provider", cfg.LLM.Provider)
	}

	go watchEnforcement(ctx, eventBus, cfg, modeLib, sampler, logger)

	startSession := func(ctx context.Context, req cron.StartRequest) (*session.Session, error) {
		profile, err := modeLib.Load(mode.CleanName(req.Mode))
		if err != nil {
			return nil, fmt.Errorf("mode %q: %w", req.Mode, err)
		}
		raw := strings.Join(req.Goals, "\n")
		return host.Start(ctx, profile, req.Minutes, req.Goals, raw,
			sessionOptions(cfg, manager.Settings().AppSettings))
	}

	scheduler := cron.NewScheduler(cron.Config{
		Store:  store,
		Logger: logger,
		Launch: func(ctx context.Context, req cron.StartRequest) error {
			_, err := startSession(ctx, req)
			return err
		},
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()
	logger.Info("startup phase", "phase", "ready", "version", Version)

	switch {
	case startReq != nil:
		runStart(ctx, *startReq, llm, startSession, logger)
	case interactive:
		go func() {
			runInteractive(ctx, modeLib, assistant, llm, eventBus, modelName, startSession, stop, logger)
			stop()
		}()
		<-ctx.Done()
		logger.Info("shutdown signal received")
	default:
		<-ctx.Done()
		logger.Info("shutdown signal received")
	}

	// Active session, plugins, scheduler and store are released by the
	// deferred closes above, in reverse startup order.
	logger.Info("shutdown complete")
}

// buildLLM assembles the provider chain from config: the primary provider
// first, then the configured fallbacks, wrapped in a failover with the
// circuit-breaker state persisted in the store. Returns nil when no provider
// has an API key.
func buildLLM(cfg config.Config, store *persistence.Store, logger *slog.Logger, metrics *otelPkg.Metrics) (provider.Provider, string) {
	names := append([]string{cfg.LLM.Provider}, cfg.LLM.FallbackProviders...)
	seen := make(map[string]bool)
	var chain []provider.Provider
	modelName := ""
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		key := cfg.ProviderAPIKey(name)
		if key == "" {
			continue
		}
		model := cfg.ProviderModel(name)
		switch name {
		case "groq":
			chain = append(chain, provider.NewGroq(key, "", model))
		case "gemini":
			chain = append(chain, provider.NewGemini(key, "", model))
		default:
			logger.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		if modelName == "" {
			modelName = model
		}
	}
	if len(chain) == 0 {
		return nil, ""
	}
	failover := provider.NewFailover(chain, cfg.LLM.FailoverThreshold,
		time.Duration(cfg.LLM.FailoverCooldownSeconds)*time.Second, logger, metrics)
	failover.SetStore(store)
	failover.LoadBreakerState(context.Background())
	return failover, modelName
}

func sessionOptions(cfg config.Config, app plugin.AppSettings) session.Options {
	return session.Options{
		CheckinInterval: time.Duration(app.PopupIntervalMinutes) * time.Minute,
		BreathSeconds:   app.BreathDurationSeconds,
		SampleInterval:  time.Duration(cfg.Enforce.SampleSeconds) * time.Second,
	}
}

// watchStateFiles reconciles the running plugin set when plugin_settings.json
// is edited by hand or by the plugins subcommand. Config edits need a restart.
func watchStateFiles(ctx context.Context, watcher *config.Watcher, homeDir string, manager *plugin.Manager, logger *slog.Logger) {
	for ev := range watcher.Events() {
		switch filepath.Base(ev.Path) {
		case "plugin_settings.json":
			settings, err := plugin.LoadSettings(plugin.SettingsPath(homeDir))
			if err != nil {
				logger.Warn("plugin settings unreadable after change", "error", err)
				continue
			}
			for id := range manager.Available() {
				want := settings.Enabled(id)
				switch {
				case want && !manager.Enabled(id):
					if err := manager.Enable(ctx, id); err != nil {
						logger.Warn("plugin enable failed", "plugin", id, "error", err)
					}
				case !want && manager.Enabled(id):
					if err := manager.Disable(id); err != nil {
						logger.Warn("plugin disable failed", "plugin", id, "error", err)
					}
				}
			}
		case "config.yaml":
			logger.Info("config.yaml changed; restart focusd to apply")
		}
	}
}

// watchEnforcement starts an app/site enforcer for each session and tears it
// down when the session ends.
func watchEnforcement(ctx context.Context, eventBus *bus.Bus, cfg config.Config, modeLib *mode.Library, sampler track.System, logger *slog.Logger) {
	sub := eventBus.Subscribe("session.")
	go func() {
		<-ctx.Done()
		eventBus.Unsubscribe(sub)
	}()

	var enforcer *enforce.Enforcer
	for event := range sub.Ch() {
		switch ev := event.Payload.(type) {
		case bus.SessionStartedEvent:
			profile, err := modeLib.Load(mode.CleanName(ev.Mode))
			if err != nil {
				logger.Warn("enforcement skipped, mode not loadable", "mode", ev.Mode, "error", err)
				continue
			}
			enforcer = enforce.New(enforce.Config{
				Strict:         cfg.Enforce.Strict,
				ApplyHosts:     cfg.Enforce.ApplyHosts,
				HostsPath:      cfg.Enforce.HostsPath,
				SampleInterval: time.Duration(cfg.Enforce.SampleSeconds) * time.Second,
			}, profile, sampler, sampler, logger)
			if err := enforcer.Start(ctx); err != nil {
				logger.Warn("enforcer start failed", "error", err)
			}
		case bus.SessionEndedEvent:
			if enforcer != nil {
				enforcer.Stop()
				enforcer = nil
			}
		}
	}
	if enforcer != nil {
		enforcer.Stop()
	}
}

// runInteractive walks the wizard, starts the session, and hands the terminal
// to the session view until it ends.
func runInteractive(ctx context.Context, modeLib *mode.Library, assistant *agent.Agent, llm provider.Provider, eventBus *bus.Bus, modelName string, startSession func(context.Context, cron.StartRequest) (*session.Session, error), stop context.CancelFunc, logger *slog.Logger) {
	slugs, err := modeLib.List()
	if err != nil {
		logger.Error("modes unavailable", "error", err)
		fmt.Fprintf(os.Stderr, "Cannot list focus modes: %v\n", err)
		return
	}
	options := make([]tui.ModeOption, 0, len(slugs))
	for _, slug := range slugs {
		m, err := modeLib.Load(slug)
		if err != nil {
			logger.Warn("skipping unreadable mode", "mode", slug, "error", err)
			continue
		}
		options = append(options, tui.ModeOption{
			Slug:        slug,
			Name:        m.Name,
			Description: m.Description,
		})
	}

	result, err := tui.RunWizard(ctx, options)
	if err != nil {
		logger.Info("session wizard cancelled", "error", err)
		return
	}

	goalList := result.Goals
	if llm != nil && strings.TrimSpace(result.RawGoals) != "" {
		analyzeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		goalList = goals.Analyze(analyzeCtx, provider.SingleShot{Provider: llm}, result.RawGoals, logger)
		cancel()
	}

	s, err := startSession(ctx, cron.StartRequest{
		Mode:    result.Mode,
		Minutes: result.Minutes,
		Goals:   goalList,
	})
	if err != nil {
		logger.Error("session start failed", "error", err)
		fmt.Fprintf(os.Stderr, "Cannot start session: %v\n", err)
		return
	}

	sc := tui.SessionConfig{
		Session:    s,
		EventBus:   eventBus,
		ModelName:  modelName,
		CancelFunc: stop,
	}
	if assistant != nil {
		sc.Assistant = assistant
	}
	if err := tui.RunSession(ctx, sc); err != nil && ctx.Err() == nil {
		logger.Error("session view exited with error", "error", err)
	}
}

// runStart runs a single session without the TUI, blocking until it ends.
func runStart(ctx context.Context, req cron.StartRequest, llm provider.Provider, startSession func(context.Context, cron.StartRequest) (*session.Session, error), logger *slog.Logger) {
	if llm != nil && len(req.Goals) > 0 {
		analyzeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		req.Goals = goals.Analyze(analyzeCtx, provider.SingleShot{Provider: llm}, strings.Join(req.Goals, "\n"), logger)
		cancel()
	}

	s, err := startSession(ctx, req)
	if err != nil {
		fatalStartup(logger, "E_SESSION_START", err)
	}
	fmt.Printf("Session %s started: %s for %d minutes, %d goals\n",
		s.ID(), s.Mode().Name, s.PlannedMinutes(), len(s.AllGoals()))

	select {
	case <-ctx.Done():
		s.End(true)
		<-s.Done()
	case <-s.Done():
	}

	completed := len(s.CompletedGoals())
	total := len(s.AllGoals())
	fmt.Printf("Session over: %d of %d goals completed\n", completed, total)
}

func parseStartArgs(args []string) (*cron.StartRequest, error) {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	modeName := fs.String("mode", "", "focus mode to run (required)")
	minutes := fs.Int("minutes", 25, "session length in minutes")
	goalsText := fs.String("goals", "", "goals, separated by newlines or semicolons")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*modeName) == "" {
		return nil, fmt.Errorf("start: -mode is required (see 'focusd modes' for the list)")
	}
	if *minutes <= 0 || *minutes > 480 {
		return nil, fmt.Errorf("start: -minutes must be between 1 and 480, got %d", *minutes)
	}
	return &cron.StartRequest{
		Mode:    *modeName,
		Minutes: *minutes,
		Goals:   goals.Parse(*goalsText),
	}, nil
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
