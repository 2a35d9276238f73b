package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type ModalState int

const (
	ModalClosed ModalState = iota
	ModalOpen
)

// CheckinModal is the periodic check-in overlay: a short guided breathing
// countdown followed by a prompt to get back to work. While the countdown
// runs only Esc dismisses it.
type CheckinModal struct {
	state       ModalState
	breathLeft  int
	elapsedMins int
}

func NewCheckinModal() CheckinModal {
	return CheckinModal{state: ModalClosed}
}

// Open shows the modal with a breathing countdown of breathSecs seconds.
func (m *CheckinModal) Open(breathSecs, elapsedMins int) {
	m.state = ModalOpen
	m.breathLeft = breathSecs
	m.elapsedMins = elapsedMins
}

func (m *CheckinModal) Close() { m.state = ModalClosed }

func (m CheckinModal) IsOpen() bool { return m.state == ModalOpen }

func (m CheckinModal) Breathing() bool { return m.breathLeft > 0 }

func (m CheckinModal) BreathLeft() int { return m.breathLeft }

// Tick advances the breathing countdown by one second.
func (m *CheckinModal) Tick() {
	if m.breathLeft > 0 {
		m.breathLeft--
	}
}

// Update handles a key press. It returns true when the modal was dismissed.
func (m *CheckinModal) Update(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "esc":
		m.Close()
		return true
	case "enter", "ctrl+m", "ctrl+j", " ":
		if m.breathLeft > 0 {
			return false
		}
		m.Close()
		return true
	}
	return false
}

func (m CheckinModal) View() string {
	if !m.IsOpen() {
		return ""
	}

	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).Padding(1, 2).Width(54)
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	focus := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder
	b.WriteString(title.Render("Check-in") + "\n\n")
	b.WriteString(fmt.Sprintf("%d minutes in. Take a moment.\n\n", m.elapsedMins))
	if m.breathLeft > 0 {
		b.WriteString(focus.Render(fmt.Sprintf("Breathe in... and out.  %ds", m.breathLeft)) + "\n\n")
		b.WriteString(dim.Render("(Esc to skip)"))
	} else {
		b.WriteString("How is it going? Adjust your goals if you need to.\n\n")
		b.WriteString(focus.Render("[ Back to it ]") + dim.Render("  (Enter)"))
	}
	return border.Render(b.String())
}
