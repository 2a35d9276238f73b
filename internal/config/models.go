package config

import "os"

// AvailableProviders returns LLM providers usable with the keys currently set.
func AvailableProviders() []string {
	var providers []string
	if os.Getenv("GROQ_API_KEY") != "" {
		providers = append(providers, "groq")
	}
	if os.Getenv("GEMINI_API_KEY") != "" {
		providers = append(providers, "gemini")
	}
	return providers
}
