package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pinefield/focusd/internal/config"
)

// runConfigCommand edits config.yaml without hand-editing YAML.
func runConfigCommand(args []string) int {
	homeDir := config.HomeDir()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, `usage: focusd config <action>

  path                          Print the config file location
  set-provider <groq|gemini>    Switch the assistant provider
  set-key <provider> <key>      Store an API key in config.yaml`)
		return 2
	}

	switch args[0] {
	case "path":
		fmt.Println(config.ConfigPath(homeDir))
		return 0

	case "set-provider":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: focusd config set-provider <groq|gemini>")
			return 2
		}
		name := strings.ToLower(args[1])
		if name != "groq" && name != "gemini" {
			fmt.Fprintf(os.Stderr, "unknown provider %q (supported: groq, gemini)\n", args[1])
			return 2
		}
		if err := config.SetProvider(homeDir, name); err != nil {
			fmt.Fprintf(os.Stderr, "set provider: %v\n", err)
			return 1
		}
		fmt.Printf("Provider set to %s.\n", name)
		return 0

	case "set-key":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: focusd config set-key <provider> <key>")
			return 2
		}
		name := strings.ToLower(args[1])
		if name != "groq" && name != "gemini" {
			fmt.Fprintf(os.Stderr, "unknown provider %q (supported: groq, gemini)\n", args[1])
			return 2
		}
		if err := config.SetAPIKey(homeDir, name, args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "set key: %v\n", err)
			return 1
		}
		fmt.Printf("API key for %s saved to %s.\n", name, config.ConfigPath(homeDir))
		return 0
	}

	fmt.Fprintf(os.Stderr, "unknown config action %q\n", args[0])
	return 2
}
