package tui

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pinefield/focusd/internal/bus"
)

type chatRole string

const (
	chatRoleUser      chatRole = "user"
	chatRoleAssistant chatRole = "assistant"
	chatRoleSystem    chatRole = "system"
)

type chatEntry struct {
	role chatRole
	text string
}

// assistantReplyMsg carries the assistant's answer back into the update loop.
type assistantReplyMsg struct {
	reply string
	err   error
}

type ctxDoneMsg struct{}

type spinnerTickMsg struct{}

// breathTickMsg advances the check-in modal's breathing countdown.
type breathTickMsg struct{}

// busEventMsg delivers a bus event from a subscription to the update loop.
type busEventMsg struct {
	event bus.Event
	sub   *bus.Subscription
}

// sessionDoneMsg fires when the session's done channel closes.
type sessionDoneMsg struct{}

// sessionSummary is what the end-of-session screen shows.
type sessionSummary struct {
	completed int
	total     int
	early     bool
}

type sessionModel struct {
	ctx context.Context
	sc  SessionConfig

	width  int
	height int

	chat       []chatEntry
	thinking   bool
	spinnerIdx int

	input  []rune
	cursor int // rune index within input

	// Input history navigation (Up/Down).
	inputHistory []string
	histIdx      int    // 0..len(inputHistory); len = editing new line
	histSaved    string // current draft before entering history

	// Checklist focus (Tab toggles between chat input and the goal list).
	focusGoals bool
	goalCursor int

	notices *noticeFeed
	checkin CheckinModal

	sessSub *bus.Subscription
	plugSub *bus.Subscription

	summary  *sessionSummary
	quitting bool
}

func newSessionModel(ctx context.Context, sc SessionConfig) sessionModel {
	m := sessionModel{
		ctx:     ctx,
		sc:      sc,
		notices: newNoticeFeed(),
		checkin: NewCheckinModal(),
	}
	if sc.EventBus != nil {
		m.sessSub = sc.EventBus.Subscribe("session.")
		m.plugSub = sc.EventBus.Subscribe("plugin.")
	}
	intro := fmt.Sprintf("%d-minute %s session started. Type to chat, /help for commands.",
		sc.Session.PlannedMinutes(), sc.Session.Mode().Name)
	m.chat = append(m.chat, chatEntry{role: chatRoleSystem, text: intro})
	m.histIdx = 0
	return m
}

func runSessionTUI(ctx context.Context, m sessionModel, cancel context.CancelFunc) error {
	// BubbleTea should restore the terminal on exit, but if the process is
	// interrupted at an unfortunate time it's easy to end up with ICRNL off
	// (Enter appears as ^M and line-based prompts stop working). This is a
	// best-effort safety net.
	defer bestEffortResetTTY()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	_, err := p.Run()
	if cancel != nil {
		cancel()
	}
	if err != nil && ctx.Err() != nil {
		// If the parent context is cancelled we don't care about the renderer error.
		return nil
	}
	return err
}

func (m sessionModel) Init() tea.Cmd {
	cmds := []tea.Cmd{waitCtxDone(m.ctx), waitSessionDone(m.sc.Session)}
	if m.sessSub != nil {
		cmds = append(cmds, waitForBusEvent(m.sessSub))
	}
	if m.plugSub != nil {
		cmds = append(cmds, waitForBusEvent(m.plugSub))
	}
	return tea.Batch(cmds...)
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

func waitSessionDone(s ActiveSession) tea.Cmd {
	return func() tea.Msg {
		<-s.Done()
		return sessionDoneMsg{}
	}
}

// waitForBusEvent blocks until an event arrives on the subscription channel.
func waitForBusEvent(sub *bus.Subscription) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub.Ch()
		if !ok {
			return nil // channel closed
		}
		return busEventMsg{event: event, sub: sub}
	}
}

func waitForSpinner() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

func breathTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return breathTickMsg{} })
}

func (m sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg:
		return m, tea.Quit

	case sessionDoneMsg:
		if m.summary == nil {
			m.summary = &sessionSummary{
				completed: len(m.sc.Session.CompletedGoals()),
				total:     len(m.sc.Session.AllGoals()),
			}
		}
		return m, nil

	case busEventMsg:
		var cmd tea.Cmd
		m, cmd = m.handleBusEvent(msg.event)
		rearm := waitForBusEvent(msg.sub)
		if cmd != nil {
			return m, tea.Batch(rearm, cmd)
		}
		return m, rearm

	case assistantReplyMsg:
		m.thinking = false
		if msg.err != nil {
			// Context cancellation is a normal shutdown path.
			if m.ctx.Err() != nil {
				return m, tea.Quit
			}
			m.chat = append(m.chat, chatEntry{role: chatRoleSystem, text: "Error: " + humanError(msg.err)})
			return m, nil
		}
		m.chat = append(m.chat, chatEntry{role: chatRoleAssistant, text: msg.reply})
		return m, nil

	case spinnerTickMsg:
		if m.thinking {
			m.spinnerIdx++
			return m, waitForSpinner()
		}
		return m, nil

	case breathTickMsg:
		if m.checkin.IsOpen() && m.checkin.Breathing() {
			m.checkin.Tick()
			if m.checkin.Breathing() {
				return m, breathTickCmd()
			}
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	return m, nil
}

func (m sessionModel) handleBusEvent(event bus.Event) (sessionModel, tea.Cmd) {
	switch ev := event.Payload.(type) {
	case bus.SessionProgressEvent:
		// Progress arrives every second; use it to age out stale notices too.
		m.notices.CleanupOld(2 * time.Minute)
		return m, nil

	case bus.SessionCheckinEvent:
		elapsedMins := ev.ElapsedSecs / 60
		m.checkin.Open(ev.BreathSecs, elapsedMins)
		if m.checkin.Breathing() {
			return m, breathTickCmd()
		}
		return m, nil

	case bus.ChecklistEvent:
		if n := len(m.sc.Session.AllGoals()); m.goalCursor >= n && n > 0 {
			m.goalCursor = n - 1
		}
		return m, nil

	case bus.NoticeEvent:
		m.notices.Add(ev.Plugin, ev.Message)
		return m, nil

	case bus.SessionEndedEvent:
		m.summary = &sessionSummary{
			completed: ev.CompletedGoals,
			total:     ev.TotalGoals,
			early:     ev.EarlyTermination,
		}
		return m, nil
	}
	return m, nil
}

func (m sessionModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Session over: any key dismisses the summary.
	if m.summary != nil {
		m.quitting = true
		return m, tea.Quit
	}

	// The check-in modal swallows keys while open, except quit.
	if m.checkin.IsOpen() {
		switch key {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		}
		m.checkin.Update(msg)
		return m, nil
	}

	if m.focusGoals {
		return m.handleGoalsKey(key)
	}

	switch key {
	case "ctrl+c", "ctrl+d":
		return m, tea.Quit

	case "tab":
		if len(m.sc.Session.AllGoals()) > 0 {
			m.focusGoals = true
		}
		return m, nil

	case "ctrl+o":
		m.notices.Toggle()
		return m, nil

	case "enter", "ctrl+m", "ctrl+j":
		return m.handleSubmit()

	case "up", "ctrl+p":
		m = m.historyPrev()
		return m, nil
	case "down", "ctrl+n":
		m = m.historyNext()
		return m, nil

	case "backspace":
		m.input, m.cursor = deleteRuneLeft(m.input, m.cursor)
		return m, nil
	case "delete":
		m.input, m.cursor = deleteRuneRight(m.input, m.cursor)
		return m, nil
	case " ":
		// Some terminals report space as KeySpace (not KeyRunes).
		m.input, m.cursor = insertRunes(m.input, m.cursor, []rune{' '})
		return m, nil

	case "left":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "right":
		if m.cursor < len(m.input) {
			m.cursor++
		}
		return m, nil
	case "home", "ctrl+a":
		m.cursor = 0
		return m, nil
	case "end", "ctrl+e":
		m.cursor = len(m.input)
		return m, nil

	case "ctrl+k":
		if m.cursor < len(m.input) {
			m.input = append([]rune(nil), m.input[:m.cursor]...)
		}
		return m, nil
	case "ctrl+u":
		m.input = nil
		m.cursor = 0
		return m, nil
	case "ctrl+w", "alt+backspace":
		m.input, m.cursor = deleteWordLeft(m.input, m.cursor)
		return m, nil
	}

	// Allow typing even while the assistant is thinking; Enter is still blocked.
	if msg.Type == tea.KeyRunes && len(msg.Runes) > 0 {
		// Ignore control characters that some terminals may report as runes
		// (notably Enter as '\r', which would show up as ^M in the input).
		filtered := make([]rune, 0, len(msg.Runes))
		for _, r := range msg.Runes {
			if r == '\r' || r == '\n' || r < 0x20 {
				continue
			}
			filtered = append(filtered, r)
		}
		if len(filtered) > 0 {
			m.input, m.cursor = insertRunes(m.input, m.cursor, filtered)
		}
		return m, nil
	}

	return m, nil
}

func (m sessionModel) handleGoalsKey(key string) (tea.Model, tea.Cmd) {
	goals := m.sc.Session.AllGoals()
	switch key {
	case "ctrl+c", "ctrl+d":
		return m, tea.Quit
	case "tab", "esc":
		m.focusGoals = false
	case "up", "k":
		if m.goalCursor > 0 {
			m.goalCursor--
		}
	case "down", "j":
		if m.goalCursor < len(goals)-1 {
			m.goalCursor++
		}
	case "enter", "ctrl+m", "ctrl+j", " ":
		if m.goalCursor < len(goals) {
			item := goals[m.goalCursor]
			done := make(map[string]bool)
			for _, g := range m.sc.Session.CompletedGoals() {
				done[g] = true
			}
			m.sc.Session.SetGoalChecked(item, !done[item])
		}
	}
	return m, nil
}

func (m sessionModel) handleSubmit() (tea.Model, tea.Cmd) {
	if m.thinking {
		return m, nil
	}
	line := strings.TrimSpace(string(m.input))
	m.input = nil
	m.cursor = 0
	m.histIdx = len(m.inputHistory)
	m.histSaved = ""
	if line == "" {
		return m, nil
	}

	// Save to input history (commands and prompts).
	m.inputHistory = append(m.inputHistory, line)
	m.histIdx = len(m.inputHistory)

	// Slash commands.
	if strings.HasPrefix(line, "/") {
		var buf bytes.Buffer
		shouldExit := handleCommand(m.ctx, line, &m.sc, &buf)
		out := strings.TrimSpace(buf.String())
		if out != "" {
			m.chat = append(m.chat, chatEntry{role: chatRoleSystem, text: out})
		}
		if shouldExit {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	if m.sc.Assistant == nil {
		m.chat = append(m.chat, chatEntry{role: chatRoleSystem, text: "Assistant is not configured. Add an AI provider key to config.yaml."})
		return m, nil
	}

	m.chat = append(m.chat, chatEntry{role: chatRoleUser, text: line})
	m.thinking = true
	return m, tea.Batch(chatCmd(m.ctx, m.sc.Assistant, line), waitForSpinner())
}

func chatCmd(ctx context.Context, a Assistant, prompt string) tea.Cmd {
	return func() tea.Msg {
		reply, actions, err := a.Chat(ctx, prompt)
		if err != nil {
			slog.Warn("tui: chat response error", "error", err)
		} else if len(actions) > 0 {
			slog.Debug("tui: chat performed actions", "actions", actions)
		}
		return assistantReplyMsg{reply: reply, err: err}
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
	focusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func (m sessionModel) View() string {
	if m.summary != nil {
		return m.viewSummary()
	}

	var b strings.Builder

	s := m.sc.Session
	header := fmt.Sprintf("Focus: %s — %d min", s.Mode().Name, s.PlannedMinutes())
	if m.sc.ModelName != "" {
		header += dimStyle.Render("   [" + m.sc.ModelName + "]")
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(m.renderProgress())
	b.WriteString("\n\n")

	if m.checkin.IsOpen() {
		b.WriteString(m.checkin.View())
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.renderChecklist())
	b.WriteString(m.notices.View())
	b.WriteString("\n")

	// Chat history, clipped to window height (best-effort; no expensive wrapping).
	hLines := m.renderChatLines()
	used := 6 + len(s.AllGoals()) // header + bar + checklist + input + spinner + footer
	available := m.height - used
	if available < 3 {
		available = 3
	}
	if len(hLines) > available {
		hLines = hLines[len(hLines)-available:]
	}
	for _, l := range hLines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString("\n> ")
	b.WriteString(renderCursor(string(m.input), m.cursor))
	b.WriteString("\n")
	if m.thinking {
		spin := []string{"|", "/", "-", "\\"}[m.spinnerIdx%4]
		b.WriteString(fmt.Sprintf("%s thinking...\n", spin))
	} else {
		b.WriteString("\n")
	}

	hint := "[Tab] goals  [Enter] send  /help  [Ctrl+D] quit"
	if m.focusGoals {
		hint = "[Up/Down] move  [Enter] toggle  [Tab] back to chat"
	}
	b.WriteString(dimStyle.Render(hint))
	b.WriteString("\n")

	return b.String()
}

func (m sessionModel) renderProgress() string {
	s := m.sc.Session
	planned := time.Duration(s.PlannedMinutes()) * time.Minute
	percent := 0
	if planned > 0 {
		percent = int(s.Elapsed() * 100 / planned)
	}
	if percent > 100 {
		percent = 100
	}
	barWidth := 30
	filled := percent * barWidth / 100
	bar := "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"

	remaining := s.Remaining().Truncate(time.Second)
	return fmt.Sprintf("%s %3d%%  %s left", bar, percent, remaining)
}

func (m sessionModel) renderChecklist() string {
	goals := m.sc.Session.AllGoals()
	if len(goals) == 0 {
		return ""
	}
	done := make(map[string]bool)
	for _, g := range m.sc.Session.CompletedGoals() {
		done[g] = true
	}

	var b strings.Builder
	for i, g := range goals {
		cursor := "  "
		if m.focusGoals && i == m.goalCursor {
			cursor = focusStyle.Render("> ")
		}
		if done[g] {
			b.WriteString(fmt.Sprintf("%s[x] %s\n", cursor, doneStyle.Render(g)))
		} else {
			b.WriteString(fmt.Sprintf("%s[ ] %s\n", cursor, g))
		}
	}
	return b.String()
}

func (m sessionModel) viewSummary() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Session complete"))
	if m.summary.early {
		b.WriteString(dimStyle.Render("  (ended early)"))
	}
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  Goals completed: %d of %d\n", m.summary.completed, m.summary.total))
	b.WriteString(fmt.Sprintf("  Time focused:    %s\n", m.sc.Session.Elapsed().Truncate(time.Second)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press any key to exit."))
	b.WriteString("\n")
	return b.String()
}

func (m sessionModel) renderChatLines() []string {
	lines := make([]string, 0, len(m.chat)*2)
	for _, e := range m.chat {
		prefix := ""
		switch e.role {
		case chatRoleUser:
			prefix = "You: "
		case chatRoleAssistant:
			prefix = "Assistant: "
		}
		lines = append(lines, m.wrapWithPrefix(e.text, prefix)...)
	}
	return lines
}

func (m sessionModel) wrapWithPrefix(text, prefix string) []string {
	if m.width <= 0 {
		return appendPrefixToLines(text, prefix)
	}

	availableWidth := m.width - len(prefix)
	if availableWidth < 10 {
		availableWidth = 10
	}

	var result []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > availableWidth {
			result = append(result, prefix+line[:availableWidth])
			line = line[availableWidth:]
		}
		result = append(result, prefix+line)
	}
	return result
}

func appendPrefixToLines(text, prefix string) []string {
	var result []string
	for _, line := range strings.Split(text, "\n") {
		result = append(result, prefix+line)
	}
	return result
}

func (m sessionModel) historyPrev() sessionModel {
	if len(m.inputHistory) == 0 {
		return m
	}
	// First time entering history: capture the current draft.
	if m.histIdx == len(m.inputHistory) {
		m.histSaved = string(m.input)
	}
	if m.histIdx > 0 {
		m.histIdx--
		m.input = []rune(m.inputHistory[m.histIdx])
		m.cursor = len(m.input)
	}
	return m
}

func (m sessionModel) historyNext() sessionModel {
	if len(m.inputHistory) == 0 {
		return m
	}
	if m.histIdx < len(m.inputHistory)-1 {
		m.histIdx++
		m.input = []rune(m.inputHistory[m.histIdx])
		m.cursor = len(m.input)
		return m
	}
	// Move back to the draft line.
	if m.histIdx == len(m.inputHistory)-1 {
		m.histIdx = len(m.inputHistory)
		m.input = []rune(m.histSaved)
		m.cursor = len(m.input)
	}
	return m
}

func insertRunes(in []rune, cursor int, r []rune) ([]rune, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	out := make([]rune, 0, len(in)+len(r))
	out = append(out, in[:cursor]...)
	out = append(out, r...)
	out = append(out, in[cursor:]...)
	return out, cursor + len(r)
}

func deleteRuneLeft(in []rune, cursor int) ([]rune, int) {
	if cursor <= 0 || len(in) == 0 {
		return in, 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}
	out := append([]rune(nil), in[:cursor-1]...)
	out = append(out, in[cursor:]...)
	return out, cursor - 1
}

func deleteRuneRight(in []rune, cursor int) ([]rune, int) {
	if len(in) == 0 {
		return in, 0
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(in) {
		return in, len(in)
	}
	out := append([]rune(nil), in[:cursor]...)
	out = append(out, in[cursor+1:]...)
	return out, cursor
}

func deleteWordLeft(in []rune, cursor int) ([]rune, int) {
	if len(in) == 0 || cursor <= 0 {
		return in, 0
	}
	if cursor > len(in) {
		cursor = len(in)
	}

	i := cursor
	// Skip any spaces just before the cursor.
	for i > 0 && isSpace(in[i-1]) {
		i--
	}
	// Then delete the word characters.
	for i > 0 && !isSpace(in[i-1]) {
		i--
	}

	out := append([]rune(nil), in[:i]...)
	out = append(out, in[cursor:]...)
	return out, i
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
