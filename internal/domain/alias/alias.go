// Package alias implements the Model Alias Registry (C4): a load-once
// table mapping a stable public model name to a (backend, upstream model)
// pair, plus the reserved aliases every config gets for free.
package alias

import (
	"fmt"
	"strings"
)

// Alias is one entry of the alias table (spec §3 ModelAlias).
type Alias struct {
	Name           string  `mapstructure:"name" yaml:"name"`
	Backend        string  `mapstructure:"backend" yaml:"backend"`
	UpstreamModel  string  `mapstructure:"upstream_model" yaml:"upstream_model"`
	ContextWindow  int     `mapstructure:"context_window" yaml:"context_window"`
	ToolsAllowed   *bool   `mapstructure:"tools_allowed" yaml:"tools_allowed"`
	MaxTokensCap   int     `mapstructure:"max_tokens_cap" yaml:"max_tokens_cap"`
	TemperatureCap float64 `mapstructure:"temperature_cap" yaml:"temperature_cap"`
}

// AllowsTools reports whether requests naming this alias may carry tool
// specs. Absent the field, tools are allowed (spec §3: only explicit
// tools_allowed=false rejects them).
func (a Alias) AllowsTools() bool {
	return a.ToolsAllowed == nil || *a.ToolsAllowed
}

// ReservedNames are the alias names the Router's policy rules look up.
// NewRegistry does not create entries for them: a reserved name resolves
// only when config supplies an alias (and its backend binding) for it,
// and Lookup reports false otherwise.
var ReservedNames = []string{"default", "fast", "coder", "long"}

// Registry is the immutable, load-once-per-process alias table.
type Registry struct {
	byName map[string]Alias
}

// NewRegistry builds a Registry from a list of aliases, lower-casing names
// per spec §3 ("name lowercased"). Backend references are validated
// against knownBackends (the Backend Registry's id set).
func NewRegistry(aliases []Alias, knownBackends map[string]bool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Alias, len(aliases))}
	for _, a := range aliases {
		name := strings.ToLower(a.Name)
		if name == "" {
			return nil, fmt.Errorf("alias registry: empty name")
		}
		if !knownBackends[a.Backend] {
			return nil, fmt.Errorf("alias %q: unknown backend %q", name, a.Backend)
		}
		a.Name = name
		r.byName[name] = a
	}
	return r, nil
}

// Lookup returns the alias bound to name, if any.
func (r *Registry) Lookup(name string) (Alias, bool) {
	a, ok := r.byName[strings.ToLower(name)]
	return a, ok
}

// Has reports whether an alias is configured for name.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[strings.ToLower(name)]
	return ok
}

// List returns every configured alias, for GET /v1/models.
func (r *Registry) List() []Alias {
	out := make([]Alias, 0, len(r.byName))
	for _, a := range r.byName {
		out = append(out, a)
	}
	return out
}
