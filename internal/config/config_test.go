package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pinefield/focusd/internal/config"
)

func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_FromFocusdHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "focusd-home")
	writeConfig(t, home, "log_level: debug\nllm:\n  provider: gemini\n")
	t.Setenv("FOCUSD_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level=debug got %q", cfg.LogLevel)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Fatalf("expected provider=gemini got %q", cfg.LLM.Provider)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected HomeDir=%q got %q", home, cfg.HomeDir)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fresh")
	t.Setenv("FOCUSD_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true when config.yaml missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "defaults")
	writeConfig(t, home, "{}\n")
	t.Setenv("FOCUSD_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Provider != "groq" {
		t.Fatalf("expected default provider=groq, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.GroqModel == "" {
		t.Fatal("expected default groq model")
	}
	if cfg.LLM.FailoverThreshold != 3 {
		t.Fatalf("expected default failover_threshold=3, got %d", cfg.LLM.FailoverThreshold)
	}
	if cfg.Agent.TimeoutSeconds != 60 {
		t.Fatalf("expected default agent timeout=60, got %d", cfg.Agent.TimeoutSeconds)
	}
	if cfg.Enforce.SampleSeconds != 5 {
		t.Fatalf("expected default sample_seconds=5, got %d", cfg.Enforce.SampleSeconds)
	}
	if cfg.Mail.Port != 993 {
		t.Fatalf("expected default mail port=993, got %d", cfg.Mail.Port)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Fatalf("expected default baud_rate=115200, got %d", cfg.Serial.BaudRate)
	}
	if cfg.Enforce.HostsPath == "" {
		t.Fatal("expected default hosts path")
	}
}

func TestLoad_LegacyProviderNameNormalized(t *testing.T) {
	home := filepath.Join(t.TempDir(), "legacy")
	writeConfig(t, home, "llm:\n  provider: google\n")
	t.Setenv("FOCUSD_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Fatalf("expected provider google normalized to gemini, got %q", cfg.LLM.Provider)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "env")
	writeConfig(t, home, "log_level: info\nenforce:\n  sample_seconds: 5\n")
	t.Setenv("FOCUSD_HOME", home)
	t.Setenv("FOCUSD_LOG_LEVEL", "debug")
	t.Setenv("FOCUSD_SAMPLE_SECONDS", "9")
	t.Setenv("FOCUSD_SERIAL_PORT", "/dev/ttyUSB7")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env override log_level=debug got %q", cfg.LogLevel)
	}
	if cfg.Enforce.SampleSeconds != 9 {
		t.Fatalf("expected env override sample_seconds=9 got %d", cfg.Enforce.SampleSeconds)
	}
	if cfg.Serial.Port != "/dev/ttyUSB7" {
		t.Fatalf("expected env override serial port, got %q", cfg.Serial.Port)
	}
}

func TestProviderAPIKey_EnvOverridesYAML(t *testing.T) {
	cfg := config.Config{
		Providers: map[string]config.ProviderConfig{
			"groq": {APIKey: "yaml-key"},
		},
	}
	if got := cfg.ProviderAPIKey("groq"); got != "yaml-key" {
		t.Fatalf("expected yaml-key, got %q", got)
	}

	t.Setenv("GROQ_API_KEY", "env-key")
	if got := cfg.ProviderAPIKey("groq"); got != "env-key" {
		t.Fatalf("expected env-key, got %q", got)
	}
}

func TestProviderAPIKey_Empty(t *testing.T) {
	cfg := config.Config{}
	if got := cfg.ProviderAPIKey("groq"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := cfg.ProviderAPIKey("nonexistent"); got != "" {
		t.Fatalf("expected empty for unknown provider, got %q", got)
	}
}

func TestProviderModel_OverrideWins(t *testing.T) {
	cfg := config.Config{
		Providers: map[string]config.ProviderConfig{
			"gemini": {Model: "gemini-2.5-pro"},
		},
	}
	cfg.LLM.GeminiModel = "gemini-2.5-flash"
	if got := cfg.ProviderModel("gemini"); got != "gemini-2.5-pro" {
		t.Fatalf("expected per-provider model override, got %q", got)
	}
	if got := cfg.ProviderModel("groq"); got != cfg.LLM.GroqModel {
		t.Fatalf("expected llm section default, got %q", got)
	}
}

func TestResolveLLMConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")
	cfg := config.Config{}
	cfg.LLM.Provider = "gemini"
	cfg.LLM.GeminiModel = "gemini-2.5-flash"
	provider, model, apiKey := cfg.ResolveLLMConfig()
	if provider != "gemini" {
		t.Fatalf("provider = %q, want gemini", provider)
	}
	if model != "gemini-2.5-flash" {
		t.Fatalf("model = %q, want gemini-2.5-flash", model)
	}
	if apiKey != "gem-key" {
		t.Fatalf("apiKey = %q, want gem-key", apiKey)
	}
}

func TestSetAPIKey_WritesConfig(t *testing.T) {
	homeDir := t.TempDir()
	configPath := config.ConfigPath(homeDir)
	if err := os.WriteFile(configPath, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	if err := config.SetAPIKey(homeDir, "groq", "test-key-123"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}

	t.Setenv("FOCUSD_HOME", homeDir)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Providers["groq"].APIKey != "test-key-123" {
		t.Fatalf("expected groq key=test-key-123, got %q", cfg.Providers["groq"].APIKey)
	}
	// Original settings preserved.
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log_level=warn preserved, got %q", cfg.LogLevel)
	}
}

func TestSetAPIKey_CreatesNewConfig(t *testing.T) {
	homeDir := t.TempDir()
	if err := config.SetAPIKey(homeDir, "gemini", "new-key"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}

	data, err := os.ReadFile(config.ConfigPath(homeDir))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "gemini") {
		t.Fatalf("expected gemini in config, got: %s", string(data))
	}
}

func TestSetProvider_PreservesOtherSettings(t *testing.T) {
	homeDir := t.TempDir()
	if err := os.WriteFile(config.ConfigPath(homeDir), []byte("log_level: error\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}
	if err := config.SetProvider(homeDir, "gemini"); err != nil {
		t.Fatalf("SetProvider: %v", err)
	}

	t.Setenv("FOCUSD_HOME", homeDir)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Fatalf("expected provider=gemini, got %q", cfg.LLM.Provider)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("expected log_level=error preserved, got %q", cfg.LogLevel)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := config.Config{LogLevel: "info"}
	b := config.Config{LogLevel: "info"}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("expected identical fingerprints for identical configs")
	}
	b.LogLevel = "debug"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected differing fingerprints after change")
	}
}
