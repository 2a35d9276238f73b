package cheer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/plugin"
)

type progressSession struct {
	progress float64
}

func (s *progressSession) ChecklistProgress() float64 { return s.progress }

func (s *progressSession) AllGoals() []string { return nil }

func (s *progressSession) CompletedGoals() []string { return nil }

func (s *progressSession) SetGoalChecked(string, bool) bool { return false }

func (s *progressSession) AddGoal(string) bool { return false }

func newCheer(t *testing.T) (*Plugin, *progressSession, *bus.Subscription, *bus.Bus) {
	t.Helper()
	b := bus.New()
	p := New()
	host := plugin.Host{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:    b,
	}
	if err := p.Initialize(context.Background(), host); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	session := &progressSession{}
	p.SetSession(session)
	sub := b.Subscribe(bus.TopicPluginNotice)
	t.Cleanup(func() { b.Unsubscribe(sub) })
	return p, session, sub, b
}

func notice(t *testing.T, sub *bus.Subscription) bus.NoticeEvent {
	t.Helper()
	select {
	case event := <-sub.Ch():
		return event.Payload.(bus.NoticeEvent)
	case <-time.After(time.Second):
		t.Fatal("no notice published")
		return bus.NoticeEvent{}
	}
}

func noNotice(t *testing.T, sub *bus.Subscription) {
	t.Helper()
	select {
	case event := <-sub.Ch():
		t.Fatalf("unexpected notice: %+v", event.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCheersOnForwardProgress(t *testing.T) {
	p, session, sub, _ := newCheer(t)

	session.progress = 50
	if err := p.ChecklistChanged("goal", true); err != nil {
		t.Fatalf("ChecklistChanged: %v", err)
	}
	n := notice(t, sub)
	if n.Plugin != "cheer" {
		t.Fatalf("plugin = %q", n.Plugin)
	}
	if !strings.Contains(n.Message, "50%") {
		t.Fatalf("message = %q", n.Message)
	}
	if !strings.Contains(n.Message, affirmations[5]) {
		t.Fatalf("message = %q, want affirmation %q", n.Message, affirmations[5])
	}
}

func TestNoCheersOnBackwardProgress(t *testing.T) {
	p, session, sub, _ := newCheer(t)

	session.progress = 50
	_ = p.ChecklistChanged("goal", true)
	notice(t, sub)

	session.progress = 25
	_ = p.ChecklistChanged("goal", false)
	noNotice(t, sub)

	// Re-reaching the previous high is not forward progress either.
	session.progress = 50
	_ = p.ChecklistChanged("goal", true)
	noNotice(t, sub)
}

func TestNoCheersAtZero(t *testing.T) {
	p, _, sub, _ := newCheer(t)
	_ = p.ChecklistChanged("goal", false)
	noNotice(t, sub)
}

func TestFullCompletionUsesLastAffirmation(t *testing.T) {
	p, session, sub, _ := newCheer(t)
	session.progress = 100
	_ = p.ChecklistChanged("goal", true)
	n := notice(t, sub)
	if !strings.Contains(n.Message, affirmations[len(affirmations)-1]) {
		t.Fatalf("message = %q", n.Message)
	}
	if !strings.Contains(n.Message, "100%") {
		t.Fatalf("message = %q", n.Message)
	}
}

func TestSessionStartResetsBaseline(t *testing.T) {
	p, session, sub, _ := newCheer(t)
	session.progress = 80
	_ = p.ChecklistChanged("goal", true)
	notice(t, sub)

	if err := p.SessionStarted(plugin.SessionData{}); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}
	session.progress = 20
	_ = p.ChecklistChanged("goal", true)
	n := notice(t, sub)
	if !strings.Contains(n.Message, "20%") {
		t.Fatalf("message = %q", n.Message)
	}
}
