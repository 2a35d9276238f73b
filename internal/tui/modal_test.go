package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestCheckinModalBreathCountdownBlocksDismiss(t *testing.T) {
	m := NewCheckinModal()
	m.Open(3, 12)
	if !m.IsOpen() || !m.Breathing() {
		t.Fatalf("modal should open breathing, open=%v breathing=%v", m.IsOpen(), m.Breathing())
	}

	if m.Update(tea.KeyMsg{Type: tea.KeyEnter}) {
		t.Fatalf("enter should not dismiss during the countdown")
	}
	if !m.IsOpen() {
		t.Fatalf("modal closed early")
	}

	for i := 0; i < 3; i++ {
		m.Tick()
	}
	if m.Breathing() {
		t.Fatalf("countdown should be over, left=%d", m.BreathLeft())
	}
	if !m.Update(tea.KeyMsg{Type: tea.KeyEnter}) {
		t.Fatalf("enter should dismiss after the countdown")
	}
	if m.IsOpen() {
		t.Fatalf("modal still open after dismiss")
	}
}

func TestCheckinModalEscSkips(t *testing.T) {
	m := NewCheckinModal()
	m.Open(8, 5)
	if !m.Update(tea.KeyMsg{Type: tea.KeyEsc}) {
		t.Fatalf("esc should dismiss at any time")
	}
	if m.IsOpen() {
		t.Fatalf("modal still open after esc")
	}
}

func TestCheckinModalZeroBreath(t *testing.T) {
	m := NewCheckinModal()
	m.Open(0, 5)
	if m.Breathing() {
		t.Fatalf("no countdown expected")
	}
	if !m.Update(tea.KeyMsg{Type: tea.KeyEnter}) {
		t.Fatalf("enter should dismiss immediately")
	}
}

func TestCheckinModalView(t *testing.T) {
	m := NewCheckinModal()
	if m.View() != "" {
		t.Fatalf("closed modal should render nothing")
	}

	m.Open(4, 30)
	view := m.View()
	if !strings.Contains(view, "Check-in") {
		t.Errorf("missing title: %q", view)
	}
	if !strings.Contains(view, "30 minutes in") {
		t.Errorf("missing elapsed line: %q", view)
	}
	if !strings.Contains(view, "4s") {
		t.Errorf("missing countdown: %q", view)
	}

	for i := 0; i < 4; i++ {
		m.Tick()
	}
	view = m.View()
	if !strings.Contains(view, "Back to it") {
		t.Errorf("missing dismiss prompt after countdown: %q", view)
	}
}
