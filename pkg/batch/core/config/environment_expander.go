package config

import (
	"os"
	"strings"
)

// EnvironmentExpander expands environment variable placeholders in raw configuration.
type EnvironmentExpander interface {
	// Expand returns input with ${VAR}, ${VAR:default} and $VAR placeholders replaced.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
//
// ${VAR:default} and ${VAR:-default} fall back to default when VAR is unset or empty.
// Unset variables without a default expand to an empty string.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// Expand implements EnvironmentExpander. It never fails.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	expanded := os.Expand(string(input), func(name string) string {
		key, def, hasDefault := strings.Cut(name, ":")
		def = strings.TrimPrefix(def, "-")
		if v, ok := lookup(key); ok && (v != "" || !hasDefault) {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
	return []byte(expanded), nil
}
