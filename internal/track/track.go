// Package track inspects and controls desktop applications: which apps are
// installed, which are running, and opening/closing them on behalf of the
// assistant. The session host samples RunningApps to build per-app usage
// totals for the session summary.
package track

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Sampler reports the applications visible on the system. The system
// implementation shells out to gopsutil; tests substitute a fake.
type Sampler interface {
	// RunningApps returns the names of running user applications, sorted
	// and deduplicated.
	RunningApps(ctx context.Context) ([]string, error)
	// InstalledApps returns the names of installed applications, sorted.
	InstalledApps(ctx context.Context) ([]string, error)
}

// Launcher opens and closes applications by name.
type Launcher interface {
	OpenApp(ctx context.Context, name string) error
	CloseApp(ctx context.Context, name string) error
}

// System is the real process-table backed Sampler and Launcher.
type System struct{}

var _ Sampler = System{}
var _ Launcher = System{}

// RunningApps lists distinct process names, excluding kernel threads and
// bracketed helper entries, mirroring `ps -eo comm` post-processing.
func (System) RunningApps(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	seen := make(map[string]struct{})
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes vanish between listing and inspection.
			continue
		}
		name = NormalizeAppName(name)
		if name == "" || strings.HasPrefix(name, "[") {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// InstalledApps lists installed applications for the current platform:
// .app bundles on macOS, desktop entries on Linux. Other platforms get an
// empty list rather than an error so the assistant degrades gracefully.
func (System) InstalledApps(ctx context.Context) ([]string, error) {
	switch runtime.GOOS {
	case "darwin":
		return installedDarwin(ctx)
	case "linux":
		return installedLinux(ctx)
	default:
		return nil, nil
	}
}

func installedDarwin(ctx context.Context) ([]string, error) {
	dirs := []string{"/Applications", "/System/Applications"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "Applications"))
	}
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			name := ent.Name()
			if !strings.HasSuffix(name, ".app") {
				continue
			}
			seen[strings.TrimSuffix(name, ".app")] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func installedLinux(ctx context.Context) ([]string, error) {
	dirs := []string{"/usr/share/applications", "/usr/local/share/applications"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local/share/applications"))
	}
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if !strings.HasSuffix(ent.Name(), ".desktop") {
				continue
			}
			name, err := desktopEntryName(filepath.Join(dir, ent.Name()))
			if err != nil || name == "" {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

// desktopEntryName extracts the Name= field from a freedesktop entry.
func desktopEntryName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if after, ok := strings.CutPrefix(line, "Name="); ok {
			return strings.TrimSpace(after), nil
		}
	}
	return "", nil
}

// OpenApp launches an application by name.
func (System) OpenApp(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty app name")
	}
	switch runtime.GOOS {
	case "darwin":
		if err := exec.CommandContext(ctx, "open", "-a", name).Run(); err == nil {
			return nil
		}
		if err := exec.CommandContext(ctx, "open", "/Applications/"+name+".app").Run(); err != nil {
			return fmt.Errorf("open app %q: %w", name, err)
		}
		return nil
	case "linux":
		if _, err := exec.LookPath("gtk-launch"); err == nil {
			if err := exec.CommandContext(ctx, "gtk-launch", name).Run(); err == nil {
				return nil
			}
		}
		bin, err := exec.LookPath(strings.ToLower(name))
		if err != nil {
			return fmt.Errorf("open app %q: not found", name)
		}
		cmd := exec.CommandContext(ctx, bin)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("open app %q: %w", name, err)
		}
		return nil
	default:
		return fmt.Errorf("open app: unsupported platform %s", runtime.GOOS)
	}
}

// CloseApp terminates all processes whose name matches the given app.
func (System) CloseApp(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty app name")
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	target := strings.ToLower(NormalizeAppName(name))
	matched := 0
	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.ToLower(NormalizeAppName(pname)) != target {
			continue
		}
		matched++
		if err := p.TerminateWithContext(ctx); err != nil {
			return fmt.Errorf("terminate %q (pid %d): %w", name, p.Pid, err)
		}
	}
	if matched == 0 {
		return fmt.Errorf("close app %q: no matching process", name)
	}
	return nil
}

// NormalizeAppName strips path prefixes and the macOS .app suffix so
// process, bundle, and config names compare equal.
func NormalizeAppName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".app")
	return name
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
