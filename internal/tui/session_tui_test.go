package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/mode"
)

type fakeViewSession struct {
	id      string
	profile mode.Mode
	planned int
	elapsed time.Duration
	goals   []string
	checked map[string]bool
	ended   bool
	early   bool
	done    chan struct{}
}

func newFakeViewSession() *fakeViewSession {
	return &fakeViewSession{
		id:      "sess-tui",
		profile: mode.Mode{Name: "productivity"},
		planned: 50,
		elapsed: 25 * time.Minute,
		goals:   []string{"write report", "review PR"},
		checked: make(map[string]bool),
		done:    make(chan struct{}),
	}
}

func (s *fakeViewSession) ID() string { return s.id }

func (s *fakeViewSession) Mode() mode.Mode { return s.profile }

func (s *fakeViewSession) PlannedMinutes() int { return s.planned }

func (s *fakeViewSession) Elapsed() time.Duration { return s.elapsed }

func (s *fakeViewSession) Remaining() time.Duration {
	return time.Duration(s.planned)*time.Minute - s.elapsed
}

func (s *fakeViewSession) AllGoals() []string { return s.goals }

func (s *fakeViewSession) CompletedGoals() []string {
	var out []string
	for _, g := range s.goals {
		if s.checked[g] {
			out = append(out, g)
		}
	}
	return out
}

func (s *fakeViewSession) ChecklistProgress() float64 {
	if len(s.goals) == 0 {
		return 0
	}
	return float64(len(s.CompletedGoals())) / float64(len(s.goals)) * 100
}

func (s *fakeViewSession) SetGoalChecked(item string, checked bool) bool {
	for _, g := range s.goals {
		if strings.EqualFold(g, item) {
			s.checked[g] = checked
			return true
		}
	}
	return false
}

func (s *fakeViewSession) AddGoal(item string) bool {
	for _, g := range s.goals {
		if strings.EqualFold(g, item) {
			return false
		}
	}
	s.goals = append(s.goals, item)
	return true
}

func (s *fakeViewSession) End(early bool) {
	s.ended = true
	s.early = early
}

func (s *fakeViewSession) Done() <-chan struct{} { return s.done }

type fakeAssistant struct {
	reply    string
	err      error
	chats    []string
	facts    string
	cleared  bool
	memorize []string
}

func (a *fakeAssistant) Chat(_ context.Context, input string) (string, []string, error) {
	a.chats = append(a.chats, input)
	return a.reply, nil, a.err
}

func (a *fakeAssistant) ClearHistory(context.Context) error {
	a.cleared = true
	return nil
}

func (a *fakeAssistant) Memory(context.Context) (string, error) { return a.facts, nil }

func (a *fakeAssistant) Remember(_ context.Context, facts string) error {
	a.memorize = append(a.memorize, facts)
	return nil
}

func newTestSessionModel() (sessionModel, *fakeViewSession, *fakeAssistant) {
	sess := newFakeViewSession()
	asst := &fakeAssistant{reply: "hello there"}
	sc := SessionConfig{
		Session:   sess,
		Assistant: asst,
		EventBus:  bus.New(),
		ModelName: "llama-3.3-70b",
	}
	return newSessionModel(context.Background(), sc), sess, asst
}

func sessPress(t *testing.T, m sessionModel, key tea.KeyType) (sessionModel, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(tea.KeyMsg{Type: key})
	sm, ok := updated.(sessionModel)
	if !ok {
		t.Fatalf("Update returned %T, want sessionModel", updated)
	}
	return sm, cmd
}

func TestDeleteWordLeft(t *testing.T) {
	in := []rune("hello   world")
	out, cur := deleteWordLeft(in, len(in))
	if string(out) != "hello   " {
		t.Fatalf("unexpected out: %q", string(out))
	}
	if cur != len([]rune("hello   ")) {
		t.Fatalf("unexpected cursor: %d", cur)
	}
}

func TestDeleteWordLeft_SkipsSpacesThenWord(t *testing.T) {
	in := []rune("abc   ")
	out, cur := deleteWordLeft(in, len(in))
	if string(out) != "" {
		t.Fatalf("unexpected out: %q", string(out))
	}
	if cur != 0 {
		t.Fatalf("unexpected cursor: %d", cur)
	}
}

func TestHandleCommand_HelpWritesOutput(t *testing.T) {
	var buf bytes.Buffer
	sess := newFakeViewSession()
	sc := SessionConfig{Session: sess}
	shouldExit := handleCommand(context.Background(), "/help", &sc, &buf)
	if shouldExit {
		t.Fatalf("expected shouldExit=false")
	}
	if !strings.Contains(buf.String(), "Commands:") {
		t.Fatalf("expected help output, got: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "/goals") {
		t.Fatalf("expected /goals in help output, got: %q", buf.String())
	}
}

func TestHandleCommand_GoalsListsStatus(t *testing.T) {
	var buf bytes.Buffer
	sess := newFakeViewSession()
	sess.checked["write report"] = true
	sc := SessionConfig{Session: sess}
	handleCommand(context.Background(), "/goals", &sc, &buf)
	out := buf.String()
	if !strings.Contains(out, "[x] 1. write report") {
		t.Errorf("expected checked first goal, got: %q", out)
	}
	if !strings.Contains(out, "[ ] 2. review PR") {
		t.Errorf("expected open second goal, got: %q", out)
	}
}

func TestHandleCommand_CheckAndUncheck(t *testing.T) {
	var buf bytes.Buffer
	sess := newFakeViewSession()
	sc := SessionConfig{Session: sess}

	handleCommand(context.Background(), "/check review PR", &sc, &buf)
	if !sess.checked["review PR"] {
		t.Fatalf("goal not checked")
	}

	buf.Reset()
	handleCommand(context.Background(), "/uncheck review PR", &sc, &buf)
	if sess.checked["review PR"] {
		t.Fatalf("goal not unchecked")
	}

	buf.Reset()
	handleCommand(context.Background(), "/check mystery goal", &sc, &buf)
	if !strings.Contains(buf.String(), "No goal matching") {
		t.Errorf("expected miss message, got: %q", buf.String())
	}
}

func TestHandleCommand_AddRejectsDuplicates(t *testing.T) {
	var buf bytes.Buffer
	sess := newFakeViewSession()
	sc := SessionConfig{Session: sess}

	handleCommand(context.Background(), "/add deploy staging", &sc, &buf)
	if len(sess.goals) != 3 {
		t.Fatalf("goals = %v", sess.goals)
	}

	buf.Reset()
	handleCommand(context.Background(), "/add write report", &sc, &buf)
	if len(sess.goals) != 3 {
		t.Fatalf("duplicate added: %v", sess.goals)
	}
	if !strings.Contains(buf.String(), "already on the list") {
		t.Errorf("expected duplicate message, got: %q", buf.String())
	}
}

func TestHandleCommand_QuitEndsSessionEarly(t *testing.T) {
	var buf bytes.Buffer
	sess := newFakeViewSession()
	sc := SessionConfig{Session: sess}
	if !handleCommand(context.Background(), "/quit", &sc, &buf) {
		t.Fatalf("expected shouldExit=true")
	}
	if !sess.ended || !sess.early {
		t.Fatalf("session not ended early: ended=%v early=%v", sess.ended, sess.early)
	}
}

func TestHandleCommand_RememberAndMemory(t *testing.T) {
	var buf bytes.Buffer
	sess := newFakeViewSession()
	asst := &fakeAssistant{facts: "prefers mornings"}
	sc := SessionConfig{Session: sess, Assistant: asst}

	handleCommand(context.Background(), "/remember I hate meetings", &sc, &buf)
	if len(asst.memorize) != 1 || asst.memorize[0] != "I hate meetings" {
		t.Fatalf("remember not forwarded: %v", asst.memorize)
	}

	buf.Reset()
	handleCommand(context.Background(), "/memory", &sc, &buf)
	if !strings.Contains(buf.String(), "prefers mornings") {
		t.Errorf("expected stored facts, got: %q", buf.String())
	}
}

func TestSubmitSendsChatToAssistant(t *testing.T) {
	m, _, asst := newTestSessionModel()
	m.input = []rune("how much time left?")
	m.cursor = len(m.input)

	m, cmd := sessPress(t, m, tea.KeyEnter)
	if !m.thinking {
		t.Fatalf("expected thinking after submit")
	}
	if cmd == nil {
		t.Fatalf("expected a command batch")
	}

	// Run the batched commands until the assistant reply shows up.
	msg := drainForReply(t, cmd)
	updated, _ := m.Update(msg)
	m = updated.(sessionModel)

	if m.thinking {
		t.Fatalf("still thinking after reply")
	}
	last := m.chat[len(m.chat)-1]
	if last.role != chatRoleAssistant || last.text != "hello there" {
		t.Fatalf("unexpected last entry: %+v", last)
	}
	if len(asst.chats) != 1 || asst.chats[0] != "how much time left?" {
		t.Fatalf("assistant saw: %v", asst.chats)
	}
}

// drainForReply executes a (possibly batched) command looking for the
// assistant's reply message.
func drainForReply(t *testing.T, cmd tea.Cmd) assistantReplyMsg {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case assistantReplyMsg:
			return msg
		case tea.BatchMsg:
			queue = append(queue, msg...)
		}
	}
	t.Fatalf("no assistantReplyMsg produced")
	return assistantReplyMsg{}
}

func TestSubmitBlockedWhileThinking(t *testing.T) {
	m, _, asst := newTestSessionModel()
	m.thinking = true
	m.input = []rune("second question")

	m, _ = sessPress(t, m, tea.KeyEnter)
	if len(asst.chats) != 0 {
		t.Fatalf("chat sent while thinking: %v", asst.chats)
	}
	if string(m.input) != "second question" {
		t.Fatalf("input cleared while blocked: %q", string(m.input))
	}
}

func TestAssistantErrorUsesHumanMessage(t *testing.T) {
	m, _, _ := newTestSessionModel()
	m.thinking = true

	updated, _ := m.Update(assistantReplyMsg{err: errors.New("agent: groq: connection refused")})
	m = updated.(sessionModel)

	last := m.chat[len(m.chat)-1]
	if last.role != chatRoleSystem || last.text != "Error: Connection refused" {
		t.Fatalf("unexpected error entry: %+v", last)
	}
}

func TestNoticeEventAddsToFeed(t *testing.T) {
	m, _, _ := newTestSessionModel()

	updated, _ := m.Update(busEventMsg{
		event: bus.Event{Topic: bus.TopicPluginNotice, Payload: bus.NoticeEvent{Plugin: "cheer", Message: "Nice pace!"}},
		sub:   m.plugSub,
	})
	m = updated.(sessionModel)

	if m.notices.Len() != 1 {
		t.Fatalf("notices = %d, want 1", m.notices.Len())
	}
	if !strings.Contains(m.View(), "Nice pace!") {
		t.Errorf("notice missing from view")
	}
}

func TestCheckinEventOpensModal(t *testing.T) {
	m, _, _ := newTestSessionModel()

	updated, cmd := m.Update(busEventMsg{
		event: bus.Event{Topic: bus.TopicSessionCheckin, Payload: bus.SessionCheckinEvent{ElapsedSecs: 1500, BreathSecs: 2}},
		sub:   m.sessSub,
	})
	m = updated.(sessionModel)
	if cmd == nil {
		t.Fatalf("expected breath tick command")
	}
	if !m.checkin.IsOpen() || !m.checkin.Breathing() {
		t.Fatalf("modal should be open breathing")
	}

	// Enter is swallowed during the countdown.
	m, _ = sessPress(t, m, tea.KeyEnter)
	if !m.checkin.IsOpen() {
		t.Fatalf("modal dismissed during countdown")
	}

	for i := 0; i < 2; i++ {
		updated, _ = m.Update(breathTickMsg{})
		m = updated.(sessionModel)
	}
	m, _ = sessPress(t, m, tea.KeyEnter)
	if m.checkin.IsOpen() {
		t.Fatalf("modal still open after countdown dismiss")
	}
}

func TestSessionEndedShowsSummary(t *testing.T) {
	m, _, _ := newTestSessionModel()

	updated, _ := m.Update(busEventMsg{
		event: bus.Event{Topic: bus.TopicSessionEnded, Payload: bus.SessionEndedEvent{CompletedGoals: 2, TotalGoals: 3, EarlyTermination: true}},
		sub:   m.sessSub,
	})
	m = updated.(sessionModel)

	view := m.View()
	if !strings.Contains(view, "Session complete") {
		t.Errorf("missing summary header: %q", view)
	}
	if !strings.Contains(view, "2 of 3") {
		t.Errorf("missing goal tally: %q", view)
	}
	if !strings.Contains(view, "ended early") {
		t.Errorf("missing early marker: %q", view)
	}

	// Any key dismisses the summary and quits.
	m, cmd := sessPress(t, m, tea.KeyEnter)
	if !m.quitting || cmd == nil {
		t.Fatalf("expected quit after summary dismissal")
	}
}

func TestSessionDoneFallbackBuildsSummary(t *testing.T) {
	m, sess, _ := newTestSessionModel()
	sess.checked["write report"] = true

	updated, _ := m.Update(sessionDoneMsg{})
	m = updated.(sessionModel)
	if m.summary == nil {
		t.Fatalf("expected summary from session state")
	}
	if m.summary.completed != 1 || m.summary.total != 2 {
		t.Fatalf("summary = %+v", m.summary)
	}
}

func TestGoalFocusToggles(t *testing.T) {
	m, sess, _ := newTestSessionModel()

	m, _ = sessPress(t, m, tea.KeyTab)
	if !m.focusGoals {
		t.Fatalf("tab should focus the goal list")
	}

	m, _ = sessPress(t, m, tea.KeyDown)
	m, _ = sessPress(t, m, tea.KeyEnter)
	if !sess.checked["review PR"] {
		t.Fatalf("second goal not toggled: %v", sess.checked)
	}

	// Toggling again reopens it.
	m, _ = sessPress(t, m, tea.KeyEnter)
	if sess.checked["review PR"] {
		t.Fatalf("second goal not untoggled: %v", sess.checked)
	}

	m, _ = sessPress(t, m, tea.KeyTab)
	if m.focusGoals {
		t.Fatalf("tab should return focus to chat input")
	}
}

func TestProgressRendering(t *testing.T) {
	m, _, _ := newTestSessionModel()
	// 25 of 50 minutes elapsed.
	line := m.renderProgress()
	if !strings.Contains(line, "50%") {
		t.Errorf("expected 50%% progress, got: %q", line)
	}
	if !strings.Contains(line, "25m0s left") {
		t.Errorf("expected remaining time, got: %q", line)
	}
}

func TestViewShowsChecklistAndHeader(t *testing.T) {
	m, sess, _ := newTestSessionModel()
	sess.checked["write report"] = true

	view := m.View()
	if !strings.Contains(view, "Focus: productivity — 50 min") {
		t.Errorf("missing header: %q", view)
	}
	if !strings.Contains(view, "[x]") || !strings.Contains(view, "[ ] review PR") {
		t.Errorf("missing checklist states: %q", view)
	}
}
