package mode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pinefield/focusd/internal/shared"
)

// Completer is the single-shot LLM call mode generation needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const customModePrompt = `Create a custom focus mode configuration based on the user's description.

Mode Name: %s
Description: %s

Available apps on system:
%s

Based on the mode description, create:
1. A list of apps that should be ALLOWED during this focus mode (choose from the available apps list)
2. A list of specific website domains that should be BLOCKED during this focus mode

IMPORTANT: Return ONLY valid JSON with NO comments or explanations. Use specific domain names only.

Example format:
{
    "apps": ["Google Chrome", "VS Code", "Terminal"],
    "blocked_sites": ["facebook.com", "twitter.com", "reddit.com"]
}`

// GenerateCustom builds a new mode from a natural-language description.
// The model picks allowed apps from the installed list and proposes domains
// to block. The resulting mode is returned unsaved.
func GenerateCustom(ctx context.Context, c Completer, name, description string, installedApps []string) (Mode, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Mode{}, fmt.Errorf("empty mode name")
	}
	if strings.TrimSpace(description) == "" {
		return Mode{}, fmt.Errorf("empty mode description")
	}

	prompt := fmt.Sprintf(customModePrompt, name, description, strings.Join(installedApps, "\n"))
	raw, err := c.Complete(ctx, prompt)
	if err != nil {
		return Mode{}, fmt.Errorf("generate mode %q: %w", name, err)
	}

	jsonStr := shared.ExtractJSON(raw)
	if jsonStr == "" {
		return Mode{}, fmt.Errorf("generate mode %q: no JSON in model response", name)
	}
	var parsed struct {
		Apps         []string `json:"apps"`
		BlockedSites []string `json:"blocked_sites"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return Mode{}, fmt.Errorf("generate mode %q: parse model response: %w", name, err)
	}

	return Mode{
		Name:         name,
		Description:  description,
		AllowedApps:  parsed.Apps,
		BlockedSites: cleanDomains(parsed.BlockedSites),
	}, nil
}

const categorizePrompt = `You are helping create focus mode configurations for a productivity app.

Given this list of applications installed on a user's machine:

%s

Please categorize each app for the following focus modes:
1. PRODUCTIVITY - Apps that help with work, productivity, coding, writing, business tasks
2. CREATIVITY - Apps for creative work like design, music, video editing, art, writing
3. SOCIAL_MEDIA_DETOX - Apps that are allowed during social media detox (productivity tools, utilities, creative apps, but NOT social media, games, entertainment)

For each app, determine which modes it should be ALLOWED in. Many apps may be allowed in multiple modes.

Return your response as a JSON object with this exact structure:
{
    "productivity": ["App1", "App2"],
    "creativity": ["App1", "App3"],
    "social": ["App1", "App2"]
}

Only include apps that clearly belong in each category. When in doubt, be conservative.`

// CategorizeApps asks the model to sort installed apps into the built-in
// modes. The returned map is keyed by mode slug.
func CategorizeApps(ctx context.Context, c Completer, apps []string) (map[string][]string, error) {
	if len(apps) == 0 {
		return nil, fmt.Errorf("no apps to categorize")
	}
	raw, err := c.Complete(ctx, fmt.Sprintf(categorizePrompt, strings.Join(apps, "\n")))
	if err != nil {
		return nil, fmt.Errorf("categorize apps: %w", err)
	}
	jsonStr := shared.ExtractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("categorize apps: no JSON in model response")
	}
	var out map[string][]string
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("categorize apps: parse model response: %w", err)
	}
	return out, nil
}

// cleanDomains strips protocols and paths from model-supplied domains.
func cleanDomains(sites []string) []string {
	out := make([]string, 0, len(sites))
	for _, s := range sites {
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
