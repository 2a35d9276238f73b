// Package mode manages focus mode profiles: named YAML files under
// $FOCUSD_HOME/modes describing which apps stay allowed and which sites get
// blocked while a session runs.
package mode

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode is one focus profile.
type Mode struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	AllowedApps []string `yaml:"allowed_apps,omitempty"`
	BlockedApps []string `yaml:"blocked_apps,omitempty"`
	// BlockedSites are bare domains; subdomain expansion happens at
	// enforcement time.
	BlockedSites []string `yaml:"blocked_sites,omitempty"`
}

// Library reads and writes mode profiles in a single directory.
type Library struct {
	dir    string
	logger *slog.Logger
}

// NewLibrary returns a library rooted at homeDir/modes.
func NewLibrary(homeDir string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		dir:    filepath.Join(homeDir, "modes"),
		logger: logger.With("component", "mode"),
	}
}

// Dir returns the modes directory path.
func (l *Library) Dir() string { return l.dir }

var nameClean = regexp.MustCompile(`[^\w\s-]`)
var nameSep = regexp.MustCompile(`[-\s]+`)

// CleanName converts a user-facing mode name into its file slug:
// punctuation removed, whitespace and hyphens collapsed to underscores,
// lowercased.
func CleanName(name string) string {
	s := nameClean.ReplaceAllString(name, "")
	s = strings.TrimSpace(s)
	s = nameSep.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// List returns the available mode slugs, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read modes dir: %w", err)
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".yaml") {
			continue
		}
		out = append(out, strings.TrimSuffix(ent.Name(), ".yaml"))
	}
	sort.Strings(out)
	return out, nil
}

// Load reads one mode by name or slug.
func (l *Library) Load(name string) (Mode, error) {
	slug := CleanName(name)
	if slug == "" {
		return Mode{}, fmt.Errorf("empty mode name")
	}
	path := filepath.Join(l.dir, slug+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Mode{}, fmt.Errorf("mode %q not found", name)
		}
		return Mode{}, fmt.Errorf("read mode %q: %w", name, err)
	}
	var m Mode
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mode{}, fmt.Errorf("parse mode %q: %w", name, err)
	}
	if m.Name == "" {
		m.Name = slug
	}
	return m, nil
}

// Save writes a mode profile, creating the modes directory if needed.
func (l *Library) Save(m Mode) error {
	slug := CleanName(m.Name)
	if slug == "" {
		return fmt.Errorf("empty mode name")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create modes dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mode %q: %w", m.Name, err)
	}
	path := filepath.Join(l.dir, slug+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write mode %q: %w", m.Name, err)
	}
	return nil
}

// Delete removes a mode profile. Built-in modes can be deleted too; a later
// EnsureDefaults restores them.
func (l *Library) Delete(name string) error {
	slug := CleanName(name)
	path := filepath.Join(l.dir, slug+".yaml")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mode %q not found", name)
		}
		return fmt.Errorf("delete mode %q: %w", name, err)
	}
	return nil
}

// EnsureDefaults writes the built-in mode profiles that do not exist yet.
// User-edited files are never overwritten.
func (l *Library) EnsureDefaults() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create modes dir: %w", err)
	}
	for _, m := range defaultModes() {
		path := filepath.Join(l.dir, CleanName(m.Name)+".yaml")
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat mode %q: %w", m.Name, err)
		}
		if err := l.Save(m); err != nil {
			return err
		}
		l.logger.Info("seeded default mode", "mode", m.Name)
	}
	return nil
}
