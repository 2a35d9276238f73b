package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/mode"
)

// Assistant is the chat surface the session view talks to.
// Implemented by the agent package.
type Assistant interface {
	Chat(ctx context.Context, input string) (reply string, actions []string, err error)
	ClearHistory(ctx context.Context) error
	Memory(ctx context.Context) (string, error)
	Remember(ctx context.Context, facts string) error
}

// ActiveSession is the running focus session the view renders and controls.
// Implemented by the session package.
type ActiveSession interface {
	ID() string
	Mode() mode.Mode
	PlannedMinutes() int
	Elapsed() time.Duration
	Remaining() time.Duration
	AllGoals() []string
	CompletedGoals() []string
	ChecklistProgress() float64
	SetGoalChecked(item string, checked bool) bool
	AddGoal(item string) bool
	End(early bool)
	Done() <-chan struct{}
}

// SessionConfig holds the dependencies for the session view.
type SessionConfig struct {
	Session    ActiveSession
	Assistant  Assistant // nil = chat pane disabled
	EventBus   *bus.Bus
	ModelName  string
	CancelFunc context.CancelFunc
}

// RunSession runs the interactive session view on stdin/stdout. It blocks
// until the session ends and the user dismisses the summary, or the user
// quits with Ctrl+D or /quit.
func RunSession(ctx context.Context, sc SessionConfig) error {
	if sc.Session == nil {
		return fmt.Errorf("no session to display")
	}
	m := newSessionModel(ctx, sc)
	return runSessionTUI(ctx, m, sc.CancelFunc)
}

// handleCommand processes a slash command. Returns true if the view should exit.
func handleCommand(ctx context.Context, line string, sc *SessionConfig, out io.Writer) bool {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToLower(parts[0])
	// Common alias.
	if cmd == "/goal" {
		cmd = "/goals"
	}
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/quit", "/exit":
		sc.Session.End(true)
		return true

	case "/help":
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  Commands:")
		fmt.Fprintln(out, "    /help               Show this help message")
		fmt.Fprintln(out, "    /goals              List session goals with status")
		fmt.Fprintln(out, "    /check <goal>       Mark a goal as done")
		fmt.Fprintln(out, "    /uncheck <goal>     Mark a goal as not done")
		fmt.Fprintln(out, "    /add <goal>         Add a goal to the checklist")
		fmt.Fprintln(out, "    /time               Show elapsed and remaining time")
		fmt.Fprintln(out, "    /remember <fact>    Store a fact about you for the assistant")
		fmt.Fprintln(out, "    /memory             Show stored facts")
		fmt.Fprintln(out, "    /clear              Clear the assistant's conversation history")
		fmt.Fprintln(out, "    /end                End the session early")
		fmt.Fprintln(out, "    /quit               End the session and exit")
		fmt.Fprintln(out)

	case "/goals":
		goals := sc.Session.AllGoals()
		if len(goals) == 0 {
			fmt.Fprintln(out, "  No goals for this session.")
			fmt.Fprintln(out)
			return false
		}
		done := make(map[string]bool)
		for _, g := range sc.Session.CompletedGoals() {
			done[g] = true
		}
		fmt.Fprintln(out)
		for i, g := range goals {
			mark := "[ ]"
			if done[g] {
				mark = "[x]"
			}
			fmt.Fprintf(out, "  %s %d. %s\n", mark, i+1, g)
		}
		fmt.Fprintln(out)

	case "/check", "/uncheck":
		if arg == "" {
			fmt.Fprintf(out, "  Usage: %s <goal>\n\n", cmd)
			return false
		}
		checked := cmd == "/check"
		if !sc.Session.SetGoalChecked(arg, checked) {
			fmt.Fprintf(out, "  No goal matching %q.\n\n", arg)
			return false
		}
		if checked {
			fmt.Fprintf(out, "  Done: %s\n\n", arg)
		} else {
			fmt.Fprintf(out, "  Reopened: %s\n\n", arg)
		}

	case "/add":
		if arg == "" {
			fmt.Fprintln(out, "  Usage: /add <goal>")
			fmt.Fprintln(out)
			return false
		}
		if !sc.Session.AddGoal(arg) {
			fmt.Fprintf(out, "  %q is already on the list.\n\n", arg)
			return false
		}
		fmt.Fprintf(out, "  Added: %s\n\n", arg)

	case "/time":
		elapsed := sc.Session.Elapsed().Truncate(time.Second)
		remaining := sc.Session.Remaining().Truncate(time.Second)
		fmt.Fprintf(out, "  Elapsed: %s   Remaining: %s of %d minutes\n\n",
			elapsed, remaining, sc.Session.PlannedMinutes())

	case "/remember":
		if arg == "" {
			fmt.Fprintln(out, "  Usage: /remember <fact>  (e.g. /remember I work best in the morning)")
			fmt.Fprintln(out)
			return false
		}
		if sc.Assistant == nil {
			fmt.Fprintln(out, "  Assistant not available.")
			fmt.Fprintln(out)
			return false
		}
		if err := sc.Assistant.Remember(ctx, arg); err != nil {
			fmt.Fprintf(out, "  Error: %s\n\n", humanError(err))
			return false
		}
		fmt.Fprintln(out, "  Noted.")
		fmt.Fprintln(out)

	case "/memory":
		if sc.Assistant == nil {
			fmt.Fprintln(out, "  Assistant not available.")
			fmt.Fprintln(out)
			return false
		}
		facts, err := sc.Assistant.Memory(ctx)
		if err != nil {
			fmt.Fprintf(out, "  Error: %s\n\n", humanError(err))
			return false
		}
		if strings.TrimSpace(facts) == "" {
			fmt.Fprintln(out, "  Nothing stored yet. Use /remember <fact>.")
		} else {
			fmt.Fprintf(out, "  Stored facts:\n  %s\n", facts)
		}
		fmt.Fprintln(out)

	case "/clear":
		if sc.Assistant == nil {
			fmt.Fprintln(out, "  Assistant not available.")
			fmt.Fprintln(out)
			return false
		}
		if err := sc.Assistant.ClearHistory(ctx); err != nil {
			fmt.Fprintf(out, "  Error: %s\n\n", humanError(err))
			return false
		}
		fmt.Fprintln(out, "  Conversation history cleared.")
		fmt.Fprintln(out)

	case "/end":
		sc.Session.End(true)
		fmt.Fprintln(out, "  Ending session...")
		fmt.Fprintln(out)

	default:
		fmt.Fprintf(out, "  Unknown command: %s (type /help for available commands)\n\n", cmd)
	}

	return false
}
