package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// WizardResult holds the output of the session setup wizard.
type WizardResult struct {
	Mode     string // mode slug
	Minutes  int
	Goals    []string
	RawGoals string // goals as typed, one per line
}

// ModeOption is one selectable focus mode profile.
type ModeOption struct {
	Slug        string
	Name        string
	Description string
}

type wizardStep int

const (
	stepMode    wizardStep = iota // Select a focus mode
	stepMinutes                   // Session length text input
	stepGoals                     // Goal list entry
	stepReview                    // Summary + confirm
)

const totalWizardSteps = 4

const defaultMinutes = 25

func wizardStepTitle(s wizardStep) string {
	switch s {
	case stepMode:
		return "Focus Mode"
	case stepMinutes:
		return "Session Length"
	case stepGoals:
		return "Goals"
	case stepReview:
		return "Review"
	default:
		return ""
	}
}

type wizardModel struct {
	step     wizardStep
	cursor   int
	input    string // Active text input buffer
	inputPos int    // Rune cursor position within input

	modes []ModeOption

	// Collected data
	modeSlug string
	minutes  int
	goals    []string

	errMsg   string
	done     bool
	quitting bool
	result   *WizardResult
}

func newWizardModel(modes []ModeOption) wizardModel {
	return wizardModel{
		step:    stepMode,
		modes:   modes,
		minutes: defaultMinutes,
	}
}

func (m wizardModel) Init() tea.Cmd {
	return nil
}

func (m wizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()

		// Global: quit
		if key == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

		switch m.step {
		case stepMode:
			return m.handleSelectKey(key)
		case stepMinutes, stepGoals:
			return m.handleTextInputKey(key)
		case stepReview:
			return m.handleReviewKey(key)
		}
	}
	return m, nil
}

func (m wizardModel) handleSelectKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "enter", "ctrl+m", "ctrl+j":
		return m.handleEnter()
	case "esc":
		return m.handleBack()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.modes)-1 {
			m.cursor++
		}
	}
	return m, nil
}

func (m wizardModel) handleTextInputKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "enter", "ctrl+m", "ctrl+j":
		return m.handleEnter()
	case "esc":
		return m.handleBack()
	case "left":
		if m.inputPos > 0 {
			m.inputPos--
		}
	case "right":
		if m.inputPos < runeLen(m.input) {
			m.inputPos++
		}
	case "home", "ctrl+a":
		m.inputPos = 0
	case "end", "ctrl+e":
		m.inputPos = runeLen(m.input)
	case "backspace":
		if m.inputPos > 0 {
			m.input = runeDeleteAt(m.input, m.inputPos)
			m.inputPos--
		} else if m.step == stepGoals && len(m.goals) > 0 {
			// Backspace on an empty line pulls the last goal back for editing.
			m.input = m.goals[len(m.goals)-1]
			m.inputPos = runeLen(m.input)
			m.goals = m.goals[:len(m.goals)-1]
		}
	case "alt+backspace", "ctrl+w":
		m.input, m.inputPos = deleteWordAt(m.input, m.inputPos)
	case "ctrl+u":
		m.input = ""
		m.inputPos = 0
	case "tab", "shift+tab":
		// ignore
	default:
		m.input = runeInsertAt(m.input, m.inputPos, key)
		m.inputPos += runeLen(key)
	}
	return m, nil
}

func (m wizardModel) handleReviewKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "enter", "ctrl+m", "ctrl+j":
		return m.handleEnter()
	case "esc":
		return m.handleBack()
	}
	return m, nil
}

func (m wizardModel) handleBack() (tea.Model, tea.Cmd) {
	if m.step <= stepMode {
		return m, nil
	}
	m.step--
	m.errMsg = ""

	// Restore state for the step we're going back to.
	switch m.step {
	case stepMode:
		m.cursor = m.findModeCursor()
	case stepMinutes:
		m.input = strconv.Itoa(m.minutes)
		m.inputPos = runeLen(m.input)
	case stepGoals:
		m.input = ""
		m.inputPos = 0
	}
	return m, nil
}

func (m wizardModel) findModeCursor() int {
	for i, opt := range m.modes {
		if opt.Slug == m.modeSlug {
			return i
		}
	}
	return 0
}

func (m wizardModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.step {
	case stepMode:
		if len(m.modes) == 0 {
			return m, nil
		}
		m.modeSlug = m.modes[m.cursor].Slug
		m.step = stepMinutes
		m.input = strconv.Itoa(m.minutes)
		m.inputPos = runeLen(m.input)

	case stepMinutes:
		text := strings.TrimSpace(m.input)
		if text == "" {
			text = strconv.Itoa(defaultMinutes)
		}
		n, err := strconv.Atoi(text)
		if err != nil || n <= 0 {
			m.errMsg = "Enter a number of minutes, e.g. 25."
			return m, nil
		}
		if n > 480 {
			m.errMsg = "Sessions are capped at 480 minutes."
			return m, nil
		}
		m.minutes = n
		m.errMsg = ""
		m.step = stepGoals
		m.input = ""
		m.inputPos = 0

	case stepGoals:
		text := strings.TrimSpace(m.input)
		if text != "" {
			m.goals = append(m.goals, text)
			m.input = ""
			m.inputPos = 0
			return m, nil
		}
		// Empty line moves on; a session without goals is allowed.
		m.step = stepReview

	case stepReview:
		m.done = true
		m.result = &WizardResult{
			Mode:     m.modeSlug,
			Minutes:  m.minutes,
			Goals:    m.goals,
			RawGoals: strings.Join(m.goals, "\n"),
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m wizardModel) View() string {
	if m.quitting {
		return "  Setup cancelled.\n"
	}
	if m.done {
		return m.viewCompletion()
	}

	var b strings.Builder

	b.WriteString("\n  focusd — New Focus Session\n")
	b.WriteString("  ========================================\n\n")

	b.WriteString(fmt.Sprintf("  Step %d/%d — %s\n\n", int(m.step)+1, totalWizardSteps, wizardStepTitle(m.step)))

	switch m.step {
	case stepMode:
		if len(m.modes) == 0 {
			b.WriteString("  No modes found. Run 'focusd modes' to create one.\n")
			break
		}
		b.WriteString("  Which mode do you want to focus in?\n\n")
		for i, opt := range m.modes {
			cursor := "  "
			if i == m.cursor {
				cursor = "> "
			}
			desc := ""
			if opt.Description != "" {
				desc = "  — " + opt.Description
			}
			b.WriteString(fmt.Sprintf("  %s%-16s%s\n", cursor, opt.Name, desc))
		}

	case stepMinutes:
		b.WriteString("  How long should this session run (minutes)?\n\n")
		b.WriteString(fmt.Sprintf("  > %s\n", renderCursor(m.input, m.inputPos)))
		if m.errMsg != "" {
			b.WriteString(fmt.Sprintf("\n  %s\n", m.errMsg))
		}

	case stepGoals:
		b.WriteString("  What do you want to get done? One goal per line;\n")
		b.WriteString("  press Enter on an empty line when you're finished.\n\n")
		for i, g := range m.goals {
			b.WriteString(fmt.Sprintf("    %d. %s\n", i+1, g))
		}
		b.WriteString(fmt.Sprintf("\n  > %s\n", renderCursor(m.input, m.inputPos)))

	case stepReview:
		b.WriteString(fmt.Sprintf("  Mode:    %s\n", m.modeDisplay()))
		b.WriteString(fmt.Sprintf("  Length:  %d minutes\n", m.minutes))
		if len(m.goals) == 0 {
			b.WriteString("  Goals:   (none)\n")
		} else {
			b.WriteString("  Goals:\n")
			for i, g := range m.goals {
				b.WriteString(fmt.Sprintf("    %d. %s\n", i+1, g))
			}
		}
		b.WriteString("\n  Press Enter to start your session!\n")
	}

	b.WriteString("\n  ")
	if m.step > stepMode {
		b.WriteString("[Esc] Back  ")
	}
	if m.step == stepReview {
		b.WriteString("[Enter] Start  [Ctrl+C] Quit\n")
	} else {
		b.WriteString("[Enter] Continue  [Ctrl+C] Quit\n")
	}

	return b.String()
}

func (m wizardModel) modeDisplay() string {
	for _, opt := range m.modes {
		if opt.Slug == m.modeSlug {
			return opt.Name
		}
	}
	return m.modeSlug
}

func (m wizardModel) viewCompletion() string {
	var b strings.Builder
	b.WriteString("\n  Session configured!\n\n")
	b.WriteString(fmt.Sprintf("  %d minutes of %s with %d goal(s).\n\n", m.minutes, m.modeDisplay(), len(m.goals)))
	return b.String()
}

// runeLen returns the number of runes in s.
func runeLen(s string) int {
	return len([]rune(s))
}

// renderCursor inserts a block cursor (█) at rune position pos within s.
func renderCursor(s string, pos int) string {
	runes := []rune(s)
	if pos >= len(runes) {
		return s + "█"
	}
	return string(runes[:pos]) + "█" + string(runes[pos:])
}

// runeInsertAt inserts text at rune position pos within s.
func runeInsertAt(s string, pos int, text string) string {
	runes := []rune(s)
	if pos >= len(runes) {
		return s + text
	}
	return string(runes[:pos]) + text + string(runes[pos:])
}

// runeDeleteAt deletes the rune before position pos, returning the new string.
func runeDeleteAt(s string, pos int) string {
	runes := []rune(s)
	if pos <= 0 || pos > len(runes) {
		return s
	}
	return string(runes[:pos-1]) + string(runes[pos:])
}

// deleteWordAt deletes the word before rune position pos, returning new string and position.
func deleteWordAt(s string, pos int) (string, int) {
	runes := []rune(s)
	if pos <= 0 {
		return s, 0
	}
	// Skip spaces immediately before cursor.
	i := pos
	for i > 0 && runes[i-1] == ' ' {
		i--
	}
	// Delete back to the previous space.
	for i > 0 && runes[i-1] != ' ' {
		i--
	}
	result := string(runes[:i]) + string(runes[pos:])
	return result, i
}

// RunWizard runs the session setup wizard and returns the chosen settings.
func RunWizard(ctx context.Context, modes []ModeOption) (*WizardResult, error) {
	defer bestEffortResetTTY()

	m := newWizardModel(modes)
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	var finalModel tea.Model
	go func() {
		var err error
		finalModel, err = p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, err
		}
	}

	wm, ok := finalModel.(wizardModel)
	if !ok || wm.quitting || wm.result == nil {
		return nil, fmt.Errorf("wizard cancelled")
	}
	return wm.result, nil
}
