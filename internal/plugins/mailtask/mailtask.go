// Package mailtask watches an IMAP inbox during focus sessions and turns
// actionable emails into checklist goals. Analysis goes through the
// configured LLM when available and falls back to keyword heuristics.
package mailtask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/plugin"
)

const (
	// lookback is how far back the inbox scan reaches.
	lookback = 2 * time.Hour
	// fetchLimit caps how many messages one scan considers.
	fetchLimit = 10
	// analyzeTimeout bounds one full scan-and-analyze pass.
	analyzeTimeout = 45 * time.Second
)

// Email is one fetched message.
type Email struct {
	From    string
	Subject string
	Date    string
	Body    string
}

// key identifies a message for duplicate suppression across scans.
func (e Email) key() string { return e.From + ":" + e.Subject + ":" + e.Date }

// Fetcher retrieves recent inbox messages. IMAPFetcher is the real one;
// tests substitute fakes.
type Fetcher interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]Email, error)
}

// Completer produces one LLM completion. Satisfied by provider.SingleShot.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Plugin is the email-task plugin.
type Plugin struct {
	plugin.Base

	fetcher  Fetcher
	llm      Completer // nil means heuristics only
	interval time.Duration

	mu        sync.Mutex
	bus       *bus.Bus
	logger    *slog.Logger
	processed map[string]bool
	stop      chan struct{}
	done      chan struct{}
}

// New builds the plugin. interval is the in-session inbox poll cadence.
func New(fetcher Fetcher, llm Completer, interval time.Duration) *Plugin {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Plugin{
		fetcher:   fetcher,
		llm:       llm,
		interval:  interval,
		processed: map[string]bool{},
	}
}

func (p *Plugin) Initialize(_ context.Context, host plugin.Host) error {
	p.mu.Lock()
	p.bus = host.Bus
	p.logger = host.Logger.With("plugin", "mailtask")
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Cleanup() error {
	p.stopMonitor()
	return nil
}

// GoalsAnalyzed scans the inbox before the session starts and appends a
// goal per actionable email. Messages seen here stay suppressed for the
// rest of the session.
func (p *Plugin) GoalsAnalyzed(goals []string, _ string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	emails, err := p.fetcher.Recent(ctx, time.Now().Add(-lookback), fetchLimit)
	if err != nil {
		p.logger.Warn("inbox scan failed", "error", err)
		return goals
	}
	out := goals
	for _, e := range emails {
		if !p.markProcessed(e) {
			continue
		}
		if task := p.analyze(ctx, e); task != "" {
			out = append(out, "Email: "+task)
		}
	}
	return out
}

// SessionStarted begins periodic inbox monitoring. Already-processed
// messages from the initial scan are kept suppressed.
func (p *Plugin) SessionStarted(plugin.SessionData) error {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	go p.monitor(stop, done)
	return nil
}

func (p *Plugin) SessionEnded(plugin.SessionData) error {
	p.stopMonitor()
	return nil
}

func (p *Plugin) stopMonitor() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.done = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (p *Plugin) monitor(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.checkNewMail()
		}
	}
}

func (p *Plugin) checkNewMail() {
	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	emails, err := p.fetcher.Recent(ctx, time.Now().Add(-lookback), fetchLimit)
	if err != nil {
		p.logger.Warn("inbox poll failed", "error", err)
		return
	}
	for _, e := range emails {
		if !p.markProcessed(e) {
			continue
		}
		task := p.analyze(ctx, e)
		if task == "" {
			continue
		}
		goal := "Email: " + task
		if p.AddGoal(goal) {
			p.notify(fmt.Sprintf("New email task added: %s", task))
			p.logger.Info("email task added", "task", task)
		}
	}
}

// markProcessed records the message key, reporting true the first time a
// message is seen.
func (p *Plugin) markProcessed(e Email) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processed[e.key()] {
		return false
	}
	p.processed[e.key()] = true
	return true
}

func (p *Plugin) notify(msg string) {
	p.mu.Lock()
	b := p.bus
	p.mu.Unlock()
	if b != nil {
		b.Publish(bus.TopicPluginNotice, bus.NoticeEvent{Plugin: "mailtask", Message: msg})
	}
}

var automatedSenders = []string{
	"noreply", "no-reply", "donotreply", "notification",
	"automated", "system", "alert", "marketing",
}

// analyze extracts an actionable task from a message, or "" when none. The
// LLM verdict is final for no-action mail; heuristics only cover LLM
// failure, not LLM refusal.
func (p *Plugin) analyze(ctx context.Context, e Email) string {
	from := strings.ToLower(e.From)
	for _, marker := range automatedSenders {
		if strings.Contains(from, marker) {
			return ""
		}
	}
	if p.llm != nil {
		task, err := p.analyzeLLM(ctx, e)
		if err == nil {
			return task
		}
		p.logger.Debug("email analysis fell back to heuristics", "error", err)
	}
	return fallbackAnalyze(e)
}

const analysisPrompt = `Analyze this email and determine if it requires action. If it does, extract key specific, actionable tasks.

Email from: %s
Subject: %s
Body: %s

Instructions:
1. First determine if this email requires any action from the recipient
2. If NO action needed, respond with exactly: "NO_ACTION"
3. If action IS needed, respond with a single, specific task starting with an action verb
4. Make the task clear and concise (under 100 characters)
5. Include relevant deadlines or context if mentioned
6. If the email falls under spam, marketing (such as anything mentioning discounts or sales, or anything recommending a purchase), or automated notifications, respond with "NO_ACTION"

Examples of good responses:
- "Review the quarterly budget proposal and provide feedback by Friday"
- "Schedule a meeting with John to discuss the project timeline"
- "Complete the client onboarding form and return it"
- "Approve the design mockups for the new website"

Examples that should return "NO_ACTION":
- Marketing emails or promotions
- Automated notifications

Response:`

func (p *Plugin) analyzeLLM(ctx context.Context, e Email) (string, error) {
	body := e.Body
	if len(body) > 1500 {
		body = body[:1500]
	}
	prompt := fmt.Sprintf(analysisPrompt, senderName(e.From), e.Subject, body)
	reply, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if strings.Contains(strings.ToUpper(reply), "NO_ACTION") {
		return "", nil
	}
	if len(reply) <= 5 || len(reply) >= 300 {
		return "", fmt.Errorf("implausible task length %d", len(reply))
	}
	return reply, nil
}

var (
	urgentKeywords = []string{"urgent", "asap", "deadline", "due", "important", "critical"}
	actionKeywords = []string{"please", "can you", "review", "approve", "complete", "need you to"}
)

// fallbackAnalyze is the keyword heuristic used when no LLM is reachable.
func fallbackAnalyze(e Email) string {
	subject := strings.ToLower(e.Subject)
	body := strings.ToLower(e.Body)
	sender := senderName(e.From)

	contains := func(keywords []string) bool {
		for _, k := range keywords {
			if strings.Contains(subject, k) || strings.Contains(body, k) {
				return true
			}
		}
		return false
	}
	hasUrgent := contains(urgentKeywords)
	hasAction := contains(actionKeywords)
	hasQuestion := strings.Contains(subject, "?") || strings.Contains(body, "?")

	if !hasUrgent && !hasAction && !hasQuestion {
		return ""
	}
	switch {
	case strings.Contains(body, "review"):
		return fmt.Sprintf("Review request from %s: %s", sender, e.Subject)
	case strings.Contains(body, "meeting") || strings.Contains(body, "call"):
		return fmt.Sprintf("Schedule meeting with %s: %s", sender, e.Subject)
	case hasQuestion:
		return fmt.Sprintf("Respond to %s: %s", sender, e.Subject)
	default:
		return fmt.Sprintf("Follow up with %s: %s", sender, e.Subject)
	}
}

// senderName extracts a readable name from "Jane Doe <jane@example.com>" or
// a bare address.
func senderName(from string) string {
	if idx := strings.IndexByte(from, '<'); idx >= 0 {
		name := strings.Trim(strings.TrimSpace(from[:idx]), `"'`)
		if name != "" && !strings.Contains(name, "@") {
			return name
		}
		from = strings.TrimSuffix(from[idx+1:], ">")
	}
	user, _, _ := strings.Cut(from, "@")
	user = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(user)
	words := strings.Fields(user)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
