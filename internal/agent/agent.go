// Package agent is the chat assistant embedded in focusd. The model has no
// direct system access; it requests information and actions through the
// SYSINFPULL command protocol, which the agent executes locally before
// asking the model for its final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/otel"
	"github.com/pinefield/focusd/internal/persistence"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/provider"
	"github.com/pinefield/focusd/internal/track"
)

// ErrBusy is returned when a chat request arrives while another is still
// in flight. The assistant handles one request at a time.
var ErrBusy = errors.New("assistant is busy with another request")

const memoryKey = "agent:memory"

// SessionInfo is the live session view the assistant reads. It extends the
// plugin checklist handle with timing.
type SessionInfo interface {
	plugin.SessionHandle
	ID() string
	PlannedMinutes() int
	Remaining() time.Duration
}

// Store is the persistence the agent needs: chat history and the memory
// fact. Satisfied by persistence.Store.
type Store interface {
	AddMessage(ctx context.Context, sessionID, role, content string) error
	RecentMessages(ctx context.Context, limit int) ([]persistence.Message, error)
	ClearMessages(ctx context.Context) error
	SetKV(ctx context.Context, key, value string) error
	GetKV(ctx context.Context, key string) (string, bool, error)
}

// Options configures an Agent.
type Options struct {
	// Timeout bounds one full Chat call, both model passes included.
	Timeout time.Duration
	// MaxHistoryTurns is how many user/assistant exchanges to replay.
	MaxHistoryTurns int
}

// Agent answers user chat, executing SYSINFPULL commands between the two
// model passes.
type Agent struct {
	llm      provider.Provider
	store    Store
	sampler  track.Sampler
	launcher track.Launcher
	session  func() SessionInfo
	bus      *bus.Bus
	logger   *slog.Logger
	metrics  *otel.Metrics
	opts     Options

	inFlight atomic.Bool
}

// New builds an agent. session returns the active session or nil; it is
// called per request so the agent always sees current state.
func New(llm provider.Provider, store Store, sampler track.Sampler, launcher track.Launcher, session func() SessionInfo, eventBus *bus.Bus, logger *slog.Logger, metrics *otel.Metrics, opts Options) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxHistoryTurns <= 0 {
		opts.MaxHistoryTurns = 10
	}
	return &Agent{
		llm:      llm,
		store:    store,
		sampler:  sampler,
		launcher: launcher,
		session:  session,
		bus:      eventBus,
		logger:   logger.With("component", "agent"),
		metrics:  metrics,
		opts:     opts,
	}
}

// Chat answers one user message. The returned actions list describes the
// commands the model executed ("checked todos", "opened Terminal"), for
// display alongside the reply.
func (a *Agent) Chat(ctx context.Context, userInput string) (reply string, actions []string, err error) {
	if !a.inFlight.CompareAndSwap(false, true) {
		return "", nil, ErrBusy
	}
	defer a.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		a.recordRequest(time.Since(start), err)
		a.publishReply(reply, err)
	}()

	history, err := a.history(ctx)
	if err != nil {
		a.logger.Warn("chat history unavailable", "error", err)
		history = nil
	}
	system := a.systemPrompt(ctx)

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: userInput})

	reply, err = a.llm.Chat(ctx, messages)
	if err != nil {
		return "", nil, fmt.Errorf("chat: %w", err)
	}

	if cmds := parseCommands(reply); len(cmds) > 0 {
		results, used := a.execute(ctx, cmds)
		actions = used

		followup := make([]provider.Message, 0, len(history)+2)
		followup = append(followup, provider.Message{Role: provider.RoleSystem, Content: system})
		followup = append(followup, history...)
		followup = append(followup, provider.Message{Role: provider.RoleUser, Content: infoPrompt(results)})

		reply, err = a.llm.Chat(ctx, followup)
		if err != nil {
			return "", actions, fmt.Errorf("chat followup: %w", err)
		}
	}

	sessionID := ""
	if s := a.session(); s != nil {
		sessionID = s.ID()
	}
	if err := a.store.AddMessage(ctx, sessionID, provider.RoleUser, userInput); err != nil {
		a.logger.Warn("chat turn not saved", "role", "user", "error", err)
	}
	if err := a.store.AddMessage(ctx, sessionID, provider.RoleAssistant, reply); err != nil {
		a.logger.Warn("chat turn not saved", "role", "assistant", "error", err)
	}

	return reply, actions, nil
}

// ClearHistory wipes the stored conversation.
func (a *Agent) ClearHistory(ctx context.Context) error {
	return a.store.ClearMessages(ctx)
}

// Memory returns the persistent user facts injected into the system prompt.
func (a *Agent) Memory(ctx context.Context) (string, error) {
	v, _, err := a.store.GetKV(ctx, memoryKey)
	return v, err
}

// Remember replaces the persistent user facts.
func (a *Agent) Remember(ctx context.Context, facts string) error {
	return a.store.SetKV(ctx, memoryKey, facts)
}

func (a *Agent) history(ctx context.Context) ([]provider.Message, error) {
	stored, err := a.store.RecentMessages(ctx, a.opts.MaxHistoryTurns*2)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Message, 0, len(stored))
	for _, m := range stored {
		if m.Role != provider.RoleUser && m.Role != provider.RoleAssistant {
			continue
		}
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (a *Agent) systemPrompt(ctx context.Context) string {
	prompt := systemPrompt
	if memory, _, err := a.store.GetKV(ctx, memoryKey); err == nil && memory != "" {
		prompt += "\n\nPersistent facts about the user: " + memory
	}
	return prompt
}

// infoPrompt renders command results for the second model pass.
func infoPrompt(results []commandResult) string {
	var b strings.Builder
	b.WriteString("Based on the user's request, here is the system information you requested:\n")
	for _, r := range results {
		b.WriteString(r.key)
		b.WriteString(": ")
		b.WriteString(r.value)
		b.WriteByte('\n')
	}
	b.WriteString("\nPlease provide a helpful response based on this information.")
	return b.String()
}

func (a *Agent) recordRequest(elapsed time.Duration, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if a.metrics.AgentRequests != nil {
		a.metrics.AgentRequests.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)))
	}
	if a.metrics.AgentDuration != nil {
		a.metrics.AgentDuration.Record(context.Background(), elapsed.Seconds())
	}
}

func (a *Agent) publishReply(reply string, err error) {
	if a.bus == nil {
		return
	}
	ev := bus.ReplyEvent{Text: reply}
	if s := a.session(); s != nil {
		ev.SessionID = s.ID()
	}
	if err != nil {
		ev.Err = err.Error()
	}
	a.bus.Publish(bus.TopicAgentReply, ev)
}
