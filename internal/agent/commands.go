package agent

import (
	"context"
	"fmt"
	"strings"
)

// systemPrompt teaches the model the SYSINFPULL protocol. It mirrors the
// information the agent can actually fetch; keep the command list in sync
// with execute below.
const systemPrompt = `You are a helpful focus assistant built into a focus-mode app. You help the user stay on task during their focus session.

You cannot access the user's system directly. When you need system information or want to perform an action, respond with ONLY a line in this exact format:

SYSINFPULL: command1, command2, ...

Available commands:
- installed_apps: list of applications installed on this machine
- running_apps: list of applications currently running
- todo_list: the user's current session goals and their status
- todo_completed: which session goals are already done
- session_length: how long the current focus session is planned to be
- session_time: how much time remains in the current session
- add_todo:<task>: add a new goal to the session checklist
- remove_todo:<task>: mark a goal as done and remove it from the pending list
- clear_todo: reset all goals to not done
- open_app:<name>: launch an application
- close_app:<name>: close a running application

CRITICAL RULES:
1. If you need system information, your ENTIRE response must be the SYSINFPULL line. No other text.
2. Only use commands from the list above.
3. After you receive the requested information, answer the user's original question naturally. Never mention SYSINFPULL to the user.
4. Keep answers short and encouraging. The user is mid-session; do not distract them.
5. If no session is active, say so rather than inventing session details.`

const sysinfPrefix = "SYSINFPULL:"

type commandResult struct {
	key   string
	value string
}

// parseCommands extracts the command list from a model reply, or nil when
// the reply is a normal answer. The marker must open the response; models
// that mention it mid-sentence are answering, not requesting.
func parseCommands(reply string) []string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, sysinfPrefix) {
		return nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, sysinfPrefix))
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[:idx]
	}
	var cmds []string
	for _, part := range strings.Split(rest, ",") {
		if c := strings.TrimSpace(part); c != "" {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

// execute runs each command in order, returning the info for the second
// model pass and a human-readable action log for the UI.
func (a *Agent) execute(ctx context.Context, cmds []string) ([]commandResult, []string) {
	results := make([]commandResult, 0, len(cmds))
	var actions []string
	for _, cmd := range cmds {
		name, arg := cmd, ""
		if idx := strings.IndexByte(cmd, ':'); idx >= 0 {
			name, arg = cmd[:idx], strings.TrimSpace(cmd[idx+1:])
		}
		value, action := a.runCommand(ctx, name, arg)
		results = append(results, commandResult{key: cmd, value: value})
		if action != "" {
			actions = append(actions, action)
		}
	}
	return results, actions
}

func (a *Agent) runCommand(ctx context.Context, name, arg string) (value, action string) {
	switch name {
	case "installed_apps":
		return a.listApps(ctx, true), ""
	case "running_apps":
		return a.listApps(ctx, false), ""
	case "todo_list":
		return a.todoList(false), ""
	case "todo_completed":
		return a.todoList(true), ""
	case "session_length":
		s := a.session()
		if s == nil {
			return "no focus session is active", ""
		}
		return fmt.Sprintf("%d minutes", s.PlannedMinutes()), ""
	case "session_time":
		s := a.session()
		if s == nil {
			return "no focus session is active", ""
		}
		rem := s.Remaining()
		return fmt.Sprintf("%dh %dm remaining", int(rem.Hours()), int(rem.Minutes())%60), ""
	case "add_todo":
		return a.addTodo(arg)
	case "remove_todo":
		return a.removeTodo(arg)
	case "clear_todo":
		return a.clearTodo()
	case "open_app":
		if arg == "" {
			return "no application named", ""
		}
		if err := a.launcher.OpenApp(ctx, arg); err != nil {
			a.logger.Warn("open app failed", "app", arg, "error", err)
			return fmt.Sprintf("could not open %s: %v", arg, err), ""
		}
		return fmt.Sprintf("opened %s", arg), "opened " + arg
	case "close_app":
		if arg == "" {
			return "no application named", ""
		}
		if err := a.launcher.CloseApp(ctx, arg); err != nil {
			a.logger.Warn("close app failed", "app", arg, "error", err)
			return fmt.Sprintf("could not close %s: %v", arg, err), ""
		}
		return fmt.Sprintf("closed %s", arg), "closed " + arg
	default:
		return "unknown command", ""
	}
}

func (a *Agent) listApps(ctx context.Context, installed bool) string {
	var apps []string
	var err error
	if installed {
		apps, err = a.sampler.InstalledApps(ctx)
	} else {
		apps, err = a.sampler.RunningApps(ctx)
	}
	if err != nil {
		a.logger.Warn("app listing failed", "installed", installed, "error", err)
		return "unavailable"
	}
	if len(apps) == 0 {
		return "none found"
	}
	return strings.Join(apps, ", ")
}

func (a *Agent) todoList(completedOnly bool) string {
	s := a.session()
	if s == nil {
		return "no focus session is active"
	}
	if completedOnly {
		done := s.CompletedGoals()
		if len(done) == 0 {
			return "no goals completed yet"
		}
		return strings.Join(done, ", ")
	}
	all := s.AllGoals()
	if len(all) == 0 {
		return "the session has no goals"
	}
	done := make(map[string]bool, len(s.CompletedGoals()))
	for _, g := range s.CompletedGoals() {
		done[g] = true
	}
	var b strings.Builder
	for i, g := range all {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(g)
		if done[g] {
			b.WriteString(" (done)")
		} else {
			b.WriteString(" (pending)")
		}
	}
	return b.String()
}

func (a *Agent) addTodo(task string) (string, string) {
	s := a.session()
	if s == nil {
		return "no focus session is active", ""
	}
	if task == "" {
		return "no task given", ""
	}
	if !s.AddGoal(task) {
		return fmt.Sprintf("%q is already on the list", task), ""
	}
	return fmt.Sprintf("added %q to the session goals", task), "added goal " + task
}

func (a *Agent) removeTodo(task string) (string, string) {
	s := a.session()
	if s == nil {
		return "no focus session is active", ""
	}
	if task == "" {
		return "no task given", ""
	}
	if !s.SetGoalChecked(task, true) {
		return fmt.Sprintf("no goal named %q", task), ""
	}
	return fmt.Sprintf("marked %q as done", task), "completed goal " + task
}

func (a *Agent) clearTodo() (string, string) {
	s := a.session()
	if s == nil {
		return "no focus session is active", ""
	}
	for _, g := range s.AllGoals() {
		s.SetGoalChecked(g, false)
	}
	return "all goals reset to not done", "reset goals"
}
