// Package route implements the Router (C5): a pure function from request
// shape to a routing decision. No I/O, no mutable state — grounded on
// original_source/app/router.py, carried into Go with the same rule order.
package route

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ngoclaw/ai-gateway/internal/domain/alias"
	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
)

// Decision is the Router's output (spec §3 RouteDecision).
type Decision struct {
	Backend string
	Model   string
	Reason  string
}

// Message is the minimal shape the Router inspects: role and content.
// Non-string content is accepted as arbitrary JSON for size estimation.
type Message struct {
	Role    string
	Content string
	Raw     any // non-string content payload, if any
}

// Config is the subset of gateway configuration the Router reads. It is
// passed by value/pointer but never mutated — the Router is pure.
type Config struct {
	Backends              *backend.Registry
	Aliases               *alias.Registry
	DefaultBackend         string
	LongContextCharsThresh int
	EnablePolicy           bool
	EnableRequestType      bool
}

var (
	backendPrefixPattern = regexp.MustCompile(`^([a-zA-Z0-9_-]+):(.+)$`)
)

// Decide is the deterministic routing function described in spec §4.5.
// Same inputs and config always yield the same Decision (router purity,
// spec §8 testable property).
func Decide(cfg Config, requestModel string, headers map[string]string, messages []Message, hasTools bool) Decision {
	// Rule 1: x-backend header override.
	if hv := headerLookup(headers, "x-backend"); hv != "" {
		if id, ok := cfg.Backends.Resolve(hv); ok {
			model := normalizeModel(requestModel, id, cfg)
			return Decision{Backend: id, Model: model, Reason: "override:x-backend"}
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(requestModel))

	// Rule 2: alias hit.
	if cfg.Aliases != nil {
		if a, ok := cfg.Aliases.Lookup(normalized); ok {
			return Decision{Backend: a.Backend, Model: a.UpstreamModel, Reason: "alias:model"}
		}
	}

	// Rule 3: explicitly pinned backend (<b>:..., <b>, <b>-default).
	if id, model, ok := pinnedBackend(normalized, cfg.Backends); ok {
		return Decision{Backend: id, Model: model, Reason: "pinned:model"}
	}

	// Rule 4: enable_policy=false -> direct pass-through.
	if !cfg.EnablePolicy {
		id := cfg.DefaultBackend
		model := requestModel
		if normalized == "auto" || normalized == "" {
			if b, ok := cfg.Backends.Get(id); ok {
				model = b.StrongModel
			}
		}
		return Decision{Backend: id, Model: model, Reason: "direct:model"}
	}

	// Rule 5: coding classifier.
	if cfg.EnableRequestType && isCodingRequest(messages) {
		if a, ok := cfg.Aliases.Lookup("coder"); ok {
			return Decision{Backend: a.Backend, Model: a.UpstreamModel, Reason: "policy:coding->alias:coder"}
		}
		if b, ok := cfg.Backends.Get(cfg.DefaultBackend); ok {
			return Decision{Backend: cfg.DefaultBackend, Model: b.StrongModel, Reason: "policy:coding->strong"}
		}
	}

	// Rule 6: has_tools.
	if hasTools {
		if a, ok := cfg.Aliases.Lookup("default"); ok && a.AllowsTools() {
			return Decision{Backend: a.Backend, Model: a.UpstreamModel, Reason: "policy:tools->alias:default"}
		}
		if a, ok := cfg.Aliases.Lookup("coder"); ok && a.AllowsTools() {
			return Decision{Backend: a.Backend, Model: a.UpstreamModel, Reason: "policy:tools->alias:coder"}
		}
		if b, ok := cfg.Backends.Get(cfg.DefaultBackend); ok {
			return Decision{Backend: cfg.DefaultBackend, Model: b.StrongModel, Reason: "policy:tools->strong"}
		}
	}

	// Rule 7: long context.
	threshold := cfg.LongContextCharsThresh
	if a, ok := cfg.Aliases.Lookup("long"); ok && a.ContextWindow > 0 {
		threshold = a.ContextWindow
	}
	if threshold > 0 && approxTextSize(messages) >= threshold {
		if a, ok := cfg.Aliases.Lookup("long"); ok {
			return Decision{Backend: a.Backend, Model: a.UpstreamModel, Reason: "policy:long_context->alias:long"}
		}
		if b, ok := cfg.Backends.Get(cfg.DefaultBackend); ok {
			return Decision{Backend: cfg.DefaultBackend, Model: b.StrongModel, Reason: "policy:long_context->strong"}
		}
	}

	// Rule 8: fast default.
	if a, ok := cfg.Aliases.Lookup("fast"); ok {
		return Decision{Backend: a.Backend, Model: a.UpstreamModel, Reason: "policy:fast->alias:fast"}
	}
	if b, ok := cfg.Backends.Get(cfg.DefaultBackend); ok {
		return Decision{Backend: cfg.DefaultBackend, Model: b.FastModel, Reason: "policy:fast"}
	}
	return Decision{Backend: cfg.DefaultBackend, Model: requestModel, Reason: "policy:fast"}
}

func headerLookup(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// pinnedBackend matches "<b>:model", "<b>", or "<b>-default" against known
// backend ids, returning the backend and the stripped/default model.
func pinnedBackend(normalized string, backends *backend.Registry) (string, string, bool) {
	if backends == nil {
		return "", "", false
	}
	if m := backendPrefixPattern.FindStringSubmatch(normalized); m != nil {
		if id, ok := backends.Resolve(m[1]); ok {
			return id, m[2], true
		}
	}
	if id, ok := backends.Resolve(normalized); ok {
		if b, ok := backends.Get(id); ok {
			return id, b.StrongModel, true
		}
	}
	if strings.HasSuffix(normalized, "-default") {
		candidate := strings.TrimSuffix(normalized, "-default")
		if id, ok := backends.Resolve(candidate); ok {
			if b, ok := backends.Get(id); ok {
				return id, b.StrongModel, true
			}
		}
	}
	return "", "", false
}

func normalizeModel(requestModel, backendID string, cfg Config) string {
	if m := backendPrefixPattern.FindStringSubmatch(strings.ToLower(requestModel)); m != nil {
		return m[2]
	}
	if b, ok := cfg.Backends.Get(backendID); ok {
		return b.StrongModel
	}
	return requestModel
}

// approxTextSize sums message content lengths; non-string content
// contributes its canonical JSON length (spec §4.5).
func approxTextSize(messages []Message) int {
	total := 0
	for _, m := range messages {
		if m.Raw != nil {
			if b, err := json.Marshal(m.Raw); err == nil {
				total += len(b)
				continue
			}
		}
		total += len(m.Content)
	}
	return total
}

// codingKeywords and codeFencePattern back the v1 coding classifier
// (resolves spec §9's open question: a small, versioned heuristic).
var codingKeywords = []string{
	"function", "class ", "def ", "import ", "traceback", "stack trace",
	"exception", "compile", "syntax error", "npm ", "pip install", "git diff",
	"refactor", "unit test", "```",
}
var codeFencePattern = regexp.MustCompile("```")

// isCodingRequest is classifier version v1: keyword + code-fence + traceback
// detection over the first user message.
func isCodingRequest(messages []Message) bool {
	var first string
	for _, m := range messages {
		if m.Role == "user" {
			first = strings.ToLower(m.Content)
			break
		}
	}
	if first == "" {
		return false
	}
	if codeFencePattern.MatchString(first) {
		return true
	}
	for _, kw := range codingKeywords {
		if strings.Contains(first, kw) {
			return true
		}
	}
	return false
}
