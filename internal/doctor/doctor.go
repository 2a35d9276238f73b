// Package doctor runs environment diagnostics: config, API keys, database,
// serial hardware, mail, and network reachability.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pinefield/focusd/internal/config"
	"github.com/pinefield/focusd/internal/mode"
	"github.com/pinefield/focusd/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkDatabase,
		checkPermissions,
		checkModes,
		checkSerial,
		checkMail,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing (first run writes defaults)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: "SKIP", Message: "Config missing"}
	}

	provider := strings.ToLower(cfg.LLM.Provider)
	envVars := map[string]string{
		"groq":   "GROQ_API_KEY",
		"gemini": "GEMINI_API_KEY",
	}

	envVar, ok := envVars[provider]
	if !ok {
		return CheckResult{
			Name:    "API Key",
			Status:  "WARN",
			Message: fmt.Sprintf("Unknown provider %q in config.yaml", provider),
			Detail:  "Supported providers: groq, gemini",
		}
	}

	if cfg.ProviderAPIKey(provider) != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("Key for %s provider found", provider)}
	}

	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: fmt.Sprintf("%s not set (required for %s provider)", envVar, provider),
		Detail:  fmt.Sprintf("Set %s, or api_key under providers.%s in config.yaml. The assistant stays disabled without it.", envVar, provider),
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.NeedsGenesis {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	dbPath := filepath.Join(cfg.HomeDir, "focusd.db")

	store, err := persistence.Open(dbPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	if _, err := store.ListSessions(ctx, 1); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}

	return CheckResult{Name: "Database", Status: "PASS", Message: "Connection and schema valid"}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	if cfg.Enforce.ApplyHosts {
		f, err := os.OpenFile(cfg.Enforce.HostsPath, os.O_WRONLY|os.O_APPEND, 0)
		if err != nil {
			return CheckResult{
				Name:    "Permissions",
				Status:  "WARN",
				Message: fmt.Sprintf("%s not writable; site blocking disabled", cfg.Enforce.HostsPath),
				Detail:  "Run with elevated privileges or set enforce.apply_hosts: false",
			}
		}
		f.Close()
	}

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkModes(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Modes", Status: "SKIP", Message: "Config missing"}
	}
	lib := mode.NewLibrary(cfg.HomeDir, nil)
	names, err := lib.List()
	if err != nil {
		return CheckResult{Name: "Modes", Status: "FAIL", Message: fmt.Sprintf("List failed: %v", err)}
	}
	if len(names) == 0 {
		return CheckResult{
			Name:    "Modes",
			Status:  "WARN",
			Message: "No focus modes defined",
			Detail:  "Defaults are written on next startup, or add YAML files under " + filepath.Join(cfg.HomeDir, "modes"),
		}
	}
	return CheckResult{Name: "Modes", Status: "PASS", Message: fmt.Sprintf("%d modes: %s", len(names), strings.Join(names, ", "))}
}

func checkSerial(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Serial", Status: "SKIP", Message: "Config missing"}
	}
	port := cfg.Serial.Port
	if port == "" {
		return CheckResult{Name: "Serial", Status: "SKIP", Message: "No port configured; hardware plugins auto-detect"}
	}
	if _, err := os.Stat(port); err != nil {
		return CheckResult{
			Name:    "Serial",
			Status:  "WARN",
			Message: fmt.Sprintf("Configured port %s not present: %v", port, err),
			Detail:  "LED bar and surface-button plugins will be inactive",
		}
	}
	return CheckResult{Name: "Serial", Status: "PASS", Message: fmt.Sprintf("Port %s present (%d baud)", port, cfg.Serial.BaudRate)}
}

func checkMail(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Mail", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Mail.Enabled {
		return CheckResult{Name: "Mail", Status: "SKIP", Message: "Mail tasks disabled"}
	}
	var missing []string
	if cfg.Mail.Server == "" {
		missing = append(missing, "mail.server")
	}
	if cfg.Mail.Email == "" {
		missing = append(missing, "mail.email")
	}
	if cfg.Mail.Password == "" {
		missing = append(missing, "mail.password (or FOCUSD_MAIL_PASSWORD)")
	}
	if len(missing) > 0 {
		return CheckResult{
			Name:    "Mail",
			Status:  "WARN",
			Message: "Mail enabled but incomplete",
			Detail:  "Missing: " + strings.Join(missing, ", "),
		}
	}
	return CheckResult{Name: "Mail", Status: "PASS", Message: fmt.Sprintf("IMAP %s:%d as %s", cfg.Mail.Server, cfg.Mail.Port, cfg.Mail.Email)}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	provider := strings.ToLower(cfg.LLM.Provider)
	endpoints := map[string]string{
		"groq":   "api.groq.com",
		"gemini": "generativelanguage.googleapis.com",
	}

	host, ok := endpoints[provider]
	if !ok {
		host = "api.groq.com"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s", provider),
	}
}
