package route

import (
	"testing"

	"github.com/ngoclaw/ai-gateway/internal/domain/alias"
	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	backends, err := backend.NewRegistry([]backend.Backend{
		{
			ID:                "cpu_main",
			BaseURL:           "http://cpu:8080",
			Capabilities:      []backend.Capability{backend.CapabilityChat},
			ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 4},
			StrongModel:       "cpu-strong",
			FastModel:         "cpu-fast",
		},
		{
			ID:                "gpu_heavy",
			BaseURL:           "http://gpu:8080",
			Capabilities:      []backend.Capability{backend.CapabilityChat, backend.CapabilityImages},
			ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 2, backend.CapabilityImages: 1},
			StrongModel:       "gpu-strong",
			FastModel:         "gpu-fast",
		},
	})
	if err != nil {
		t.Fatalf("backend registry: %v", err)
	}
	known := map[string]bool{"cpu_main": true, "gpu_heavy": true}
	aliases, err := alias.NewRegistry([]alias.Alias{
		{Name: "coder", Backend: "gpu_heavy", UpstreamModel: "gpu-coder"},
		{Name: "long", Backend: "gpu_heavy", UpstreamModel: "gpu-long", ContextWindow: 40000},
		{Name: "fast", Backend: "cpu_main", UpstreamModel: "cpu-fast"},
	}, known)
	if err != nil {
		t.Fatalf("alias registry: %v", err)
	}
	return Config{
		Backends:               backends,
		Aliases:                aliases,
		DefaultBackend:         "cpu_main",
		LongContextCharsThresh: 45000,
		EnablePolicy:           true,
		EnableRequestType:      true,
	}
}

func TestDecide_HeaderOverride(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(cfg, "coder", map[string]string{"x-backend": "gpu_heavy"}, nil, false)
	if d.Backend != "gpu_heavy" || d.Reason != "override:x-backend" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_AliasHit(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(cfg, "coder", nil, []Message{{Role: "user", Content: "hi"}}, false)
	if d.Backend != "gpu_heavy" || d.Model != "gpu-coder" || d.Reason != "alias:model" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_PinnedBackend(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(cfg, "gpu_heavy:some-model", nil, nil, false)
	if d.Backend != "gpu_heavy" || d.Model != "some-model" || d.Reason != "pinned:model" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_PinnedWinsOverToolsHeuristic(t *testing.T) {
	// original_source/app/router.py: an explicitly pinned model is honored
	// even over the has_tools/long-context heuristics.
	cfg := testConfig(t)
	d := Decide(cfg, "cpu_main:exact-model", nil, nil, true)
	if d.Reason != "pinned:model" || d.Model != "exact-model" {
		t.Errorf("got %+v, want pinned model to win over tools policy", d)
	}
}

func TestDecide_DirectModeBypassesPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnablePolicy = false
	d := Decide(cfg, "some-explicit-model", nil, nil, true)
	if d.Reason != "direct:model" || d.Model != "some-explicit-model" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_DirectModeAutoMapsToStrong(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnablePolicy = false
	d := Decide(cfg, "auto", nil, nil, false)
	if d.Model != "cpu-strong" {
		t.Errorf("auto should map to default backend's strong model, got %+v", d)
	}
}

func TestDecide_CodingClassifier(t *testing.T) {
	cfg := testConfig(t)
	msgs := []Message{{Role: "user", Content: "please fix this ```python\ndef f(): pass\n``` traceback"}}
	d := Decide(cfg, "default", nil, msgs, false)
	if d.Reason != "policy:coding->alias:coder" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_HasTools(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(cfg, "default", nil, []Message{{Role: "user", Content: "plain question"}}, true)
	if d.Backend != "gpu_heavy" || d.Reason != "policy:tools->alias:coder" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_LongContext(t *testing.T) {
	cfg := testConfig(t)
	big := make([]byte, 50000)
	for i := range big {
		big[i] = 'x'
	}
	d := Decide(cfg, "default", nil, []Message{{Role: "user", Content: string(big)}}, false)
	if d.Reason != "policy:long_context->alias:long" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_FastDefault(t *testing.T) {
	cfg := testConfig(t)
	d := Decide(cfg, "default", nil, []Message{{Role: "user", Content: "hi"}}, false)
	if d.Reason != "policy:fast->alias:fast" {
		t.Errorf("got %+v", d)
	}
}

func TestDecide_IsPure(t *testing.T) {
	cfg := testConfig(t)
	msgs := []Message{{Role: "user", Content: "hi"}}
	a := Decide(cfg, "default", nil, msgs, false)
	b := Decide(cfg, "default", nil, msgs, false)
	if a != b {
		t.Errorf("Decide is not pure: %+v != %+v", a, b)
	}
}
