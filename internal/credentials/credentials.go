// Package credentials resolves configuration values with a fixed precedence:
// explicit configuration, then the process environment, then nothing.
package credentials

import (
	"os"
	"runtime"
	"strings"
)

// Environment variable names read when running server-side.
const (
	EnvAPIKey  = "NUABASE_API_KEY"
	EnvBaseURL = "NUABASE_BASE_URL"
)

// Environment is an immutable snapshot of the process environment.
type Environment struct {
	// Browser is true when running inside an untrusted client (js/wasm).
	// Implicit environment values are never read in that case.
	Browser bool

	vars map[string]string
}

// NewEnvironment builds an Environment from explicit values.
func NewEnvironment(browser bool, vars map[string]string) Environment {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return Environment{Browser: browser, vars: copied}
}

// Snapshot captures the current process environment.
func Snapshot() Environment {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[key] = value
	}
	return Environment{Browser: runtime.GOOS == "js", vars: vars}
}

// Lookup returns the value of an environment variable in the snapshot.
func (e Environment) Lookup(name string) (string, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Resolve returns explicit when it is non-empty. Otherwise, in a server-side
// process, it falls back to envVar. In a browser-like environment it never
// reads implicit values.
func Resolve(explicit, envVar string, env Environment) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if env.Browser || envVar == "" {
		return "", false
	}
	v, ok := env.Lookup(envVar)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
