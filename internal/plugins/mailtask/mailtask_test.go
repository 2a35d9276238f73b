package mailtask

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/plugin"
)

type fakeFetcher struct {
	mu     sync.Mutex
	emails []Email
	err    error
}

func (f *fakeFetcher) Recent(context.Context, time.Time, int) ([]Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Email(nil), f.emails...), nil
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(context.Context, string) (string, error) {
	return f.reply, f.err
}

type goalSession struct {
	mu    sync.Mutex
	goals []string
}

func (s *goalSession) ChecklistProgress() float64 { return 0 }

func (s *goalSession) AllGoals() []string { return s.goals }

func (s *goalSession) CompletedGoals() []string { return nil }

func (s *goalSession) SetGoalChecked(string, bool) bool { return false }

func (s *goalSession) AddGoal(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = append(s.goals, item)
	return true
}

func newMailtask(t *testing.T, fetcher Fetcher, llm Completer) (*Plugin, *bus.Bus) {
	t.Helper()
	b := bus.New()
	p := New(fetcher, llm, 10*time.Millisecond)
	host := plugin.Host{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:    b,
	}
	if err := p.Initialize(context.Background(), host); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.Cleanup() })
	return p, b
}

func TestGoalsAnalyzedAppendsEmailTasks(t *testing.T) {
	fetcher := &fakeFetcher{emails: []Email{
		{From: "Sam Lee <sam@example.com>", Subject: "Budget review", Date: "d1", Body: "please review"},
	}}
	p, _ := newMailtask(t, fetcher, &fakeCompleter{reply: "Review the budget proposal by Friday"})

	goals := p.GoalsAnalyzed([]string{"write report"}, "write report")
	if len(goals) != 2 {
		t.Fatalf("goals = %v", goals)
	}
	if goals[1] != "Email: Review the budget proposal by Friday" {
		t.Fatalf("goals[1] = %q", goals[1])
	}
}

func TestGoalsAnalyzedSkipsNoAction(t *testing.T) {
	fetcher := &fakeFetcher{emails: []Email{
		{From: "sam@example.com", Subject: "Newsletter", Date: "d1", Body: "weekly digest"},
	}}
	p, _ := newMailtask(t, fetcher, &fakeCompleter{reply: "NO_ACTION"})

	goals := p.GoalsAnalyzed([]string{"write report"}, "")
	if len(goals) != 1 {
		t.Fatalf("goals = %v", goals)
	}
}

func TestGoalsAnalyzedSkipsAutomatedSenders(t *testing.T) {
	fetcher := &fakeFetcher{emails: []Email{
		{From: "noreply@github.com", Subject: "urgent: please review", Date: "d1", Body: "please review"},
	}}
	p, _ := newMailtask(t, fetcher, &fakeCompleter{reply: "Review something"})

	goals := p.GoalsAnalyzed(nil, "")
	if len(goals) != 0 {
		t.Fatalf("goals = %v", goals)
	}
}

func TestGoalsAnalyzedSurvivesFetchError(t *testing.T) {
	p, _ := newMailtask(t, &fakeFetcher{err: errors.New("imap down")}, nil)
	goals := p.GoalsAnalyzed([]string{"write report"}, "")
	if len(goals) != 1 || goals[0] != "write report" {
		t.Fatalf("goals = %v", goals)
	}
}

func TestDuplicateEmailsSuppressed(t *testing.T) {
	fetcher := &fakeFetcher{emails: []Email{
		{From: "sam@example.com", Subject: "Review", Date: "d1", Body: "please review"},
	}}
	p, _ := newMailtask(t, fetcher, &fakeCompleter{reply: "Review the doc"})

	first := p.GoalsAnalyzed(nil, "")
	second := p.GoalsAnalyzed(nil, "")
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("first = %v, second = %v", first, second)
	}
}

func TestLLMFailureFallsBackToHeuristics(t *testing.T) {
	fetcher := &fakeFetcher{emails: []Email{
		{From: "Sam Lee <sam@example.com>", Subject: "urgent question", Date: "d1", Body: "can you help me?"},
	}}
	p, _ := newMailtask(t, fetcher, &fakeCompleter{err: errors.New("api down")})

	goals := p.GoalsAnalyzed(nil, "")
	if len(goals) != 1 {
		t.Fatalf("goals = %v", goals)
	}
	if !strings.Contains(goals[0], "Respond to Sam Lee") {
		t.Fatalf("goals[0] = %q", goals[0])
	}
}

func TestMonitorAddsGoalsMidSession(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, b := newMailtask(t, fetcher, &fakeCompleter{reply: "Approve the mockups"})

	session := &goalSession{}
	p.SetSession(session)
	sub := b.Subscribe(bus.TopicPluginNotice)
	defer b.Unsubscribe(sub)

	if err := p.SessionStarted(plugin.SessionData{}); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}
	fetcher.mu.Lock()
	fetcher.emails = []Email{
		{From: "lead@example.com", Subject: "Mockups", Date: "d2", Body: "please approve"},
	}
	fetcher.mu.Unlock()

	select {
	case event := <-sub.Ch():
		notice := event.Payload.(bus.NoticeEvent)
		if notice.Plugin != "mailtask" || !strings.Contains(notice.Message, "Approve the mockups") {
			t.Fatalf("notice = %+v", notice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notice for mid-session email")
	}

	session.mu.Lock()
	goals := append([]string(nil), session.goals...)
	session.mu.Unlock()
	if len(goals) != 1 || goals[0] != "Email: Approve the mockups" {
		t.Fatalf("session goals = %v", goals)
	}

	if err := p.SessionEnded(plugin.SessionData{}); err != nil {
		t.Fatalf("SessionEnded: %v", err)
	}
}

func TestSessionEndedStopsMonitor(t *testing.T) {
	p, _ := newMailtask(t, &fakeFetcher{}, nil)
	if err := p.SessionStarted(plugin.SessionData{}); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}
	finished := make(chan error, 1)
	go func() { finished <- p.SessionEnded(plugin.SessionData{}) }()
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("SessionEnded: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SessionEnded hung")
	}
	// Ending again is a no-op.
	if err := p.SessionEnded(plugin.SessionData{}); err != nil {
		t.Fatalf("second SessionEnded: %v", err)
	}
}

func TestFallbackAnalyze(t *testing.T) {
	tests := []struct {
		name  string
		email Email
		want  string
	}{
		{
			"review request",
			Email{From: "sam@example.com", Subject: "Q3 numbers", Body: "please review the figures"},
			"Review request from Sam: Q3 numbers",
		},
		{
			"meeting",
			Email{From: "jane.doe@example.com", Subject: "Sync", Body: "can you join a call tomorrow"},
			"Schedule meeting with Jane Doe: Sync",
		},
		{
			"question",
			Email{From: "Bob <bob@example.com>", Subject: "Quick question", Body: "what is the deadline?"},
			"Respond to Bob: Quick question",
		},
		{
			"urgent follow up",
			Email{From: "ops@example.com", Subject: "urgent outage", Body: "production is degraded"},
			"Follow up with Ops: urgent outage",
		},
		{
			"nothing actionable",
			Email{From: "sam@example.com", Subject: "FYI", Body: "sharing some notes"},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fallbackAnalyze(tt.email); got != tt.want {
				t.Fatalf("fallbackAnalyze = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSenderName(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"Jane Doe <jane@example.com>", "Jane Doe"},
		{"john.smith@example.com", "John Smith"},
		{"dev_team@example.com", "Dev Team"},
		{`"Quoted Name" <q@example.com>`, "Quoted Name"},
		{"<bare@example.com>", "Bare"},
	}
	for _, tt := range tests {
		if got := senderName(tt.from); got != tt.want {
			t.Fatalf("senderName(%q) = %q, want %q", tt.from, got, tt.want)
		}
	}
}

func TestCleanBody(t *testing.T) {
	raw := "Please review the doc https://example.com/x?utm_source=mail\n\n\n\nThanks   a lot\n--\nJane\nSent from my iPhone"
	got := cleanBody(raw)
	if strings.Contains(got, "http") || strings.Contains(got, "utm_") {
		t.Fatalf("links survived: %q", got)
	}
	if strings.Contains(got, "Sent from my") {
		t.Fatalf("signature survived: %q", got)
	}
	if !strings.Contains(got, "Please review the doc") {
		t.Fatalf("content lost: %q", got)
	}
	if strings.Contains(got, "Thanks   a") {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}
