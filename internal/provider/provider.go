// Package provider implements the LLM backends the assistant talks to:
// Groq (OpenAI-style chat completions) and Gemini (generateContent), plus a
// circuit-breaker failover chain across them.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single LLM backend.
type Provider interface {
	// Name identifies the backend ("groq", "gemini") for logging and
	// breaker state.
	Name() string
	// Chat sends the conversation and returns the model's reply text.
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Complete sends a single user prompt with no history, for one-shot tasks
// like mode generation. It adapts any Provider to mode.Completer.
type SingleShot struct {
	Provider Provider
}

func (s SingleShot) Complete(ctx context.Context, prompt string) (string, error) {
	return s.Provider.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}})
}

// truncateBody shortens HTTP error bodies for error messages.
func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	const max = 300
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// statusError builds a consistent error for non-200 API responses.
func statusError(name string, status int, body []byte) error {
	return fmt.Errorf("%s: status %d: %s", name, status, truncateBody(body))
}
