package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax to avoid collision with $ in literal values.
//
// This prevents conflicts with literal $ characters commonly found in:
//   - Connection strings and passwords: p@ss$word
//   - Shell snippets embedded in values: $PATH, ${ARRAY[0]}
//
// Examples:
//   - {{.DATABASE_URL}} → value of DATABASE_URL environment variable
//   - {{.RPC_HOST}}:{{.RPC_PORT}} → hostname:port with both variables expanded
//   - url: "wss://node/$key" → preserved literally ($ not touched)
//
// Missing variables expand to empty string (unless template is malformed).
// Validation catches required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// If template parsing fails, return original data
		// This allows YAML without any template syntax to pass through
		return data
	}

	// Build environment map for template
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		// If execution fails, return original data
		return data
	}

	return buf.Bytes()
}
