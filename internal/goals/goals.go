// Package goals turns free-form session intentions into an ordered goal
// checklist. Parsing is deterministic; prioritization asks the model and
// falls back to a keyword heuristic when no provider is reachable.
package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/pinefield/focusd/internal/shared"
)

// Completer is the single-shot LLM call prioritization needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// Parse splits raw goal text into individual goals: one per line or
// semicolon-separated, bullets and numbering stripped, duplicates dropped
// while preserving first-seen order.
func Parse(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == ';' }) {
		g := bulletPrefix.ReplaceAllString(line, "")
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		key := strings.ToLower(g)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	return out
}

const prioritizePrompt = `You are helping order a focus session's goal list by priority.

Goals:
%s

Reorder these goals so the most urgent and impactful come first. Consider
deadlines, blockers, and dependencies mentioned in the text.

Return ONLY a JSON array of the goal strings in priority order, containing
exactly the goals given, unchanged.`

// Prioritize reorders goals via the model. The reply is validated against
// the input: unknown strings are dropped and goals the model omitted are
// appended in their original order, so the result is always a permutation
// of the input.
func Prioritize(ctx context.Context, c Completer, goals []string) ([]string, error) {
	if len(goals) < 2 {
		return goals, nil
	}
	raw, err := c.Complete(ctx, fmt.Sprintf(prioritizePrompt, strings.Join(goals, "\n")))
	if err != nil {
		return nil, fmt.Errorf("prioritize goals: %w", err)
	}
	jsonStr := shared.ExtractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("prioritize goals: no JSON in model response")
	}
	var ordered []string
	if err := json.Unmarshal([]byte(jsonStr), &ordered); err != nil {
		return nil, fmt.Errorf("prioritize goals: parse model response: %w", err)
	}

	known := make(map[string]int, len(goals))
	for i, g := range goals {
		known[strings.ToLower(strings.TrimSpace(g))] = i
	}
	used := make(map[int]struct{}, len(goals))
	var out []string
	for _, g := range ordered {
		i, ok := known[strings.ToLower(strings.TrimSpace(g))]
		if !ok {
			continue
		}
		if _, dup := used[i]; dup {
			continue
		}
		used[i] = struct{}{}
		out = append(out, goals[i])
	}
	for i, g := range goals {
		if _, ok := used[i]; !ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// urgencyKeywords weight the heuristic fallback. Higher means sooner.
var urgencyKeywords = map[string]int{
	"asap":     5,
	"urgent":   5,
	"deadline": 4,
	"today":    4,
	"due":      3,
	"blocker":  3,
	"blocked":  3,
	"finish":   2,
	"fix":      2,
	"submit":   2,
	"review":   1,
	"reply":    1,
	"email":    1,
}

// HeuristicPrioritize orders goals by urgency keywords, stable within equal
// scores, used when no AI provider is available.
func HeuristicPrioritize(goals []string) []string {
	type scored struct {
		goal  string
		score int
		index int
	}
	items := make([]scored, len(goals))
	for i, g := range goals {
		score := 0
		lower := strings.ToLower(g)
		for kw, w := range urgencyKeywords {
			if strings.Contains(lower, kw) {
				score += w
			}
		}
		items[i] = scored{goal: g, score: score, index: i}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.goal
	}
	return out
}

// Analyze parses raw text and prioritizes the result. Model failures fall
// back to the keyword heuristic; Analyze itself never fails.
func Analyze(ctx context.Context, c Completer, raw string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	parsed := Parse(raw)
	if len(parsed) < 2 || c == nil {
		return parsed
	}
	ordered, err := Prioritize(ctx, c, parsed)
	if err != nil {
		logger.Warn("goal prioritization fell back to heuristic", "error", err)
		return HeuristicPrioritize(parsed)
	}
	return ordered
}
