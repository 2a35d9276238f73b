package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Notice is one user-facing plugin message (a cheer, a mail task, a
// hardware check-in request).
type Notice struct {
	Plugin  string
	Message string
	At      time.Time
}

// noticeFeed collects plugin notices for display. Bubbletea passes models
// by value, so the mutex lives on a shared pointer.
type noticeFeed struct {
	mu        sync.Mutex
	items     []Notice
	collapsed bool
	maxItems  int
}

func newNoticeFeed() *noticeFeed {
	return &noticeFeed{maxItems: 8, collapsed: true}
}

func (f *noticeFeed) Add(plugin, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Notice{Plugin: plugin, Message: message, At: time.Now()})
	if len(f.items) > f.maxItems {
		f.items = f.items[1:]
	}
	f.collapsed = false // auto-expand on new notices
}

func (f *noticeFeed) Toggle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collapsed = !f.collapsed
}

func (f *noticeFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// CleanupOld drops notices older than maxAge, returning how many were removed.
func (f *noticeFeed) CleanupOld(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	kept := f.items[:0]
	removed := 0
	for _, it := range f.items {
		if now.Sub(it.At) >= maxAge {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	f.items = kept
	return removed
}

func (f *noticeFeed) View() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	if f.collapsed {
		return dim.Render(fmt.Sprintf("── %d notices (Ctrl+O to expand) ──", len(f.items))) + "\n"
	}

	itemS := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	tagS := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var out strings.Builder
	out.WriteString(dim.Render("── Notices (Ctrl+O to collapse) ──") + "\n")
	for _, it := range f.items {
		age := time.Since(it.At).Truncate(time.Second)
		line := fmt.Sprintf("%s %s", it.Message, tagS.Render(fmt.Sprintf("[%s, %s ago]", it.Plugin, age)))
		out.WriteString(itemS.Render(line) + "\n")
	}
	return out.String()
}
