package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxManifestSize is the maximum allowed size for a manifest.json (64 KiB).
const maxManifestSize = 64 << 10

// Manifest is the static descriptor found in each plugin directory.
// MainFile survives from earlier releases where plugins were loaded from
// source; it is informational now that plugins are compiled in.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	MainFile    string `json:"main_file"`
}

const manifestSchemaJSON = `{
	"type": "object",
	"required": ["name", "version", "description", "main_file"],
	"properties": {
		"name":        {"type": "string", "minLength": 1},
		"version":     {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"main_file":   {"type": "string", "minLength": 1}
	}
}`

var manifestSchema = sync.OnceValue(func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("plugin: unmarshal manifest schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("manifest.json", doc); err != nil {
		panic(fmt.Sprintf("plugin: add manifest schema resource: %v", err))
	}
	s, err := c.Compile("manifest.json")
	if err != nil {
		panic(fmt.Sprintf("plugin: compile manifest schema: %v", err))
	}
	return s
})

// LoadManifest reads and validates a plugin manifest file.
func LoadManifest(path string) (Manifest, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("stat manifest: %w", err)
	}
	if fi.Size() > maxManifestSize {
		return Manifest{}, fmt.Errorf("manifest too large: %d bytes (max %d)", fi.Size(), maxManifestSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest validates raw manifest bytes against the manifest schema.
func ParseManifest(data []byte) (Manifest, error) {
	// jsonschema.UnmarshalJSON is required for correct number handling.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	if err := manifestSchema().Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest schema validation: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// WriteManifest writes a manifest file with stable two-space indentation.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
