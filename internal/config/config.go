package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // custom endpoint override
	Model   string `yaml:"model"`    // model override for this provider
}

// LLMConfig holds configuration for all LLM providers.
type LLMConfig struct {
	// Provider names the active LLM provider: "groq" or "gemini".
	Provider string `yaml:"provider"`

	GroqModel   string `yaml:"groq_model"`
	GeminiModel string `yaml:"gemini_model"`

	// Failover config: ordered list of provider names to try when the primary fails.
	FallbackProviders []string `yaml:"fallback_providers"`

	// FailoverThreshold is the number of consecutive failures before a provider's
	// circuit breaker trips. Default 3.
	FailoverThreshold int `yaml:"failover_threshold"`

	// FailoverCooldownSeconds is the duration (in seconds) before a tripped circuit
	// breaker resets and the provider is retried. Default 300 (5 minutes).
	FailoverCooldownSeconds int `yaml:"failover_cooldown_seconds"`
}

// AgentConfig tunes the chat assistant.
type AgentConfig struct {
	// TimeoutSeconds bounds one full chat round trip, including any
	// system-information follow-up call. Default 60.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// MaxHistoryTurns is the conversation window sent to the provider. Default 10.
	MaxHistoryTurns int `yaml:"max_history_turns"`
}

// EnforceConfig controls distraction blocking during sessions.
type EnforceConfig struct {
	// Strict terminates blocked processes instead of only reporting them.
	Strict bool `yaml:"strict"`
	// ApplyHosts writes the blocked-site fragment into the hosts file on
	// session start. Requires write access to HostsPath.
	ApplyHosts bool   `yaml:"apply_hosts"`
	HostsPath  string `yaml:"hosts_path"`
	// SampleSeconds is the app-usage sampling interval during sessions. Default 5.
	SampleSeconds int `yaml:"sample_seconds"`
}

// MailConfig configures the mail-task plugin's IMAP account.
type MailConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Server               string `yaml:"server"`
	Port                 int    `yaml:"port"`
	Email                string `yaml:"email"`
	Password             string `yaml:"password"`
	CheckIntervalMinutes int    `yaml:"check_interval_minutes"`
}

// SerialConfig configures the LED progress-bar hardware link.
type SerialConfig struct {
	Port     string `yaml:"port"` // e.g. /dev/ttyUSB0, COM3
	BaudRate int    `yaml:"baud_rate"`
}

// MetricsConfig toggles OpenTelemetry metrics.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // otlp-http (default), stdout, none
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	LLM LLMConfig `yaml:"llm"`

	// Providers holds per-provider configuration (API keys, custom endpoints).
	Providers map[string]ProviderConfig `yaml:"providers"`

	Agent   AgentConfig   `yaml:"agent"`
	Enforce EnforceConfig `yaml:"enforce"`
	Mail    MailConfig    `yaml:"mail"`
	Serial  SerialConfig  `yaml:"serial"`
	Metrics MetricsConfig `yaml:"metrics"`

	NeedsGenesis bool `yaml:"-"`
}

// ProviderAPIKey returns the API key for the given provider, checking env
// overrides first: GROQ_API_KEY, GEMINI_API_KEY.
func (c Config) ProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"groq":   "GROQ_API_KEY",
		"gemini": "GEMINI_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok {
			return p.APIKey
		}
	}
	return ""
}

// ProviderModel returns the effective model for the named provider: a
// per-provider override wins, then the llm section default.
func (c Config) ProviderModel(provider string) string {
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.Model != "" {
			return p.Model
		}
	}
	switch provider {
	case "groq":
		return c.LLM.GroqModel
	case "gemini":
		return c.LLM.GeminiModel
	}
	return ""
}

// ResolveLLMConfig returns the effective primary provider, model, and API key.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "groq"
	}
	model = c.ProviderModel(provider)
	apiKey = c.ProviderAPIKey(provider)
	return provider, model, apiKey
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetProvider updates the active LLM provider in config.yaml, preserving other settings.
func SetProvider(homeDir, provider string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	llm, _ := raw["llm"].(map[string]interface{})
	if llm == nil {
		llm = make(map[string]interface{})
	}
	llm["provider"] = provider
	raw["llm"] = llm
	return saveRawConfig(configPath, raw)
}

// SetAPIKey updates a single provider API key in config.yaml, preserving other settings.
func SetAPIKey(homeDir, provider, value string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	providers, _ := raw["providers"].(map[string]interface{})
	if providers == nil {
		providers = make(map[string]interface{})
	}
	entry, _ := providers[provider].(map[string]interface{})
	if entry == nil {
		entry = make(map[string]interface{})
	}
	entry["api_key"] = value
	providers[provider] = entry
	raw["providers"] = providers
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|provider=%s|strict=%t|hosts=%t|mail=%t",
		c.LogLevel, c.LLM.Provider, c.Enforce.Strict, c.Enforce.ApplyHosts, c.Mail.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:                "groq",
			GroqModel:               "llama-3.3-70b-versatile",
			GeminiModel:             "gemini-2.5-flash",
			FallbackProviders:       []string{"gemini"},
			FailoverThreshold:       3,
			FailoverCooldownSeconds: 300,
		},
		Agent: AgentConfig{
			TimeoutSeconds:  60,
			MaxHistoryTurns: 10,
		},
		Enforce: EnforceConfig{
			SampleSeconds: 5,
		},
		Mail: MailConfig{
			Port:                 993,
			CheckIntervalMinutes: 10,
		},
		Serial: SerialConfig{
			BaudRate: 115200,
		},
	}
}

func defaultHostsPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// HomeDir resolves the focusd state directory, honoring the FOCUSD_HOME override.
func HomeDir() string {
	if override := os.Getenv("FOCUSD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".focusd")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create focusd home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "groq"
	}
	// Normalize legacy provider name.
	if cfg.LLM.Provider == "google" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.GroqModel == "" {
		cfg.LLM.GroqModel = "llama-3.3-70b-versatile"
	}
	if cfg.LLM.GeminiModel == "" {
		cfg.LLM.GeminiModel = "gemini-2.5-flash"
	}
	if cfg.LLM.FailoverThreshold <= 0 {
		cfg.LLM.FailoverThreshold = 3
	}
	if cfg.LLM.FailoverCooldownSeconds <= 0 {
		cfg.LLM.FailoverCooldownSeconds = 300
	}
	if cfg.Agent.TimeoutSeconds <= 0 {
		cfg.Agent.TimeoutSeconds = 60
	}
	if cfg.Agent.MaxHistoryTurns <= 0 {
		cfg.Agent.MaxHistoryTurns = 10
	}
	if cfg.Enforce.SampleSeconds <= 0 {
		cfg.Enforce.SampleSeconds = 5
	}
	if strings.TrimSpace(cfg.Enforce.HostsPath) == "" {
		cfg.Enforce.HostsPath = defaultHostsPath()
	}
	if cfg.Mail.Port <= 0 {
		cfg.Mail.Port = 993
	}
	if cfg.Mail.CheckIntervalMinutes <= 0 {
		cfg.Mail.CheckIntervalMinutes = 10
	}
	if cfg.Serial.BaudRate <= 0 {
		cfg.Serial.BaudRate = 115200
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("FOCUSD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("FOCUSD_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("FOCUSD_SERIAL_PORT"); raw != "" {
		cfg.Serial.Port = raw
	}
	if raw := os.Getenv("FOCUSD_HOSTS_PATH"); raw != "" {
		cfg.Enforce.HostsPath = raw
	}
	if raw := os.Getenv("FOCUSD_SAMPLE_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Enforce.SampleSeconds = v
		}
	}
	if raw := os.Getenv("FOCUSD_AGENT_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Agent.TimeoutSeconds = v
		}
	}
	if raw := os.Getenv("FOCUSD_MAIL_PASSWORD"); raw != "" {
		cfg.Mail.Password = raw
	}
	if raw := os.Getenv("FOCUSD_METRICS_ENABLED"); raw != "" {
		cfg.Metrics.Enabled = raw == "1" || strings.EqualFold(raw, "true")
	}
}
