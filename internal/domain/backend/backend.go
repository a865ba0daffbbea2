// Package backend holds the typed catalog of inference back-ends the
// gateway fronts (C1 Backend Registry).
package backend

import "fmt"

// Capability is a request kind a backend can serve.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityImages     Capability = "images"
	CapabilityMusic      Capability = "music"
	CapabilityTTS        Capability = "tts"
)

// PayloadPolicy controls how large or unusual payloads for a backend are
// handled (e.g. response_format defaults for image backends).
type PayloadPolicy struct {
	MaxRequestBytes  int64  `mapstructure:"max_request_bytes" yaml:"max_request_bytes"`
	DefaultResponse  string `mapstructure:"default_response_format" yaml:"default_response_format"`
	Dialect          string `mapstructure:"dialect" yaml:"dialect"` // "openai" | "ndjson"
}

// Backend is the identity and contract of one upstream inference server.
type Backend struct {
	ID                string                `mapstructure:"id" yaml:"id"`
	BaseURL           string                `mapstructure:"base_url" yaml:"base_url"`
	Description       string                `mapstructure:"description" yaml:"description"`
	Capabilities      []Capability          `mapstructure:"capabilities" yaml:"capabilities"`
	ConcurrencyLimits map[Capability]int    `mapstructure:"concurrency_limits" yaml:"concurrency_limits"`
	LivenessPath      string                `mapstructure:"liveness" yaml:"liveness"`
	ReadinessPath     string                `mapstructure:"readiness" yaml:"readiness"`
	PayloadPolicy     PayloadPolicy         `mapstructure:"payload_policy" yaml:"payload_policy"`
	StrongModel       string                `mapstructure:"strong_model" yaml:"strong_model"`
	FastModel         string                `mapstructure:"fast_model" yaml:"fast_model"`
	LegacyAliases     []string              `mapstructure:"legacy_aliases" yaml:"legacy_aliases"`
}

// HasCapability reports whether the backend declares the given capability.
func (b Backend) HasCapability(c Capability) bool {
	for _, cap := range b.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// Validate enforces the data-model invariants from spec §3: capabilities
// non-empty and every capability has a concurrency cap >= 1.
func (b Backend) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("backend: id is required")
	}
	if b.BaseURL == "" {
		return fmt.Errorf("backend %s: base_url is required", b.ID)
	}
	if len(b.Capabilities) == 0 {
		return fmt.Errorf("backend %s: capabilities must be non-empty", b.ID)
	}
	for _, c := range b.Capabilities {
		limit, ok := b.ConcurrencyLimits[c]
		if !ok || limit < 1 {
			return fmt.Errorf("backend %s: capability %s requires a concurrency_limits entry >= 1", b.ID, c)
		}
	}
	return nil
}
