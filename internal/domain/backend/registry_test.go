package backend

import (
	"os"
	"testing"
)

func testBackend(id string) Backend {
	return Backend{
		ID:                id,
		BaseURL:           "http://" + id + ":8080",
		Capabilities:      []Capability{CapabilityChat},
		ConcurrencyLimits: map[Capability]int{CapabilityChat: 2},
	}
}

func TestNewRegistry_EnvSubstitution(t *testing.T) {
	os.Setenv("GW_TEST_HOST", "10.0.0.5")
	defer os.Unsetenv("GW_TEST_HOST")

	b := testBackend("gpu")
	b.BaseURL = "http://${GW_TEST_HOST}:8080"

	r, err := NewRegistry([]Backend{b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := r.Get("gpu")
	if !ok {
		t.Fatal("expected backend gpu to be registered")
	}
	if got.BaseURL != "http://10.0.0.5:8080" {
		t.Errorf("base_url = %q, want substituted host", got.BaseURL)
	}
}

func TestNewRegistry_RejectsMissingConcurrencyCap(t *testing.T) {
	b := testBackend("gpu")
	b.ConcurrencyLimits = map[Capability]int{}

	if _, err := NewRegistry([]Backend{b}); err == nil {
		t.Fatal("expected error for missing concurrency cap")
	}
}

func TestNewRegistry_LegacyAliasMustResolve(t *testing.T) {
	b := testBackend("gpu")
	b.LegacyAliases = []string{"old-gpu"}

	r, err := NewRegistry([]Backend{b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := r.Resolve("old-gpu")
	if !ok || id != "gpu" {
		t.Errorf("Resolve(old-gpu) = (%q, %v), want (gpu, true)", id, ok)
	}
}

func TestNewRegistry_DuplicateID(t *testing.T) {
	b1 := testBackend("gpu")
	b2 := testBackend("gpu")

	if _, err := NewRegistry([]Backend{b1, b2}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestRegistry_ByCapability(t *testing.T) {
	chatOnly := testBackend("chat-only")
	images := testBackend("img")
	images.Capabilities = []Capability{CapabilityImages}
	images.ConcurrencyLimits = map[Capability]int{CapabilityImages: 1}

	r, err := NewRegistry([]Backend{chatOnly, images})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := r.ByCapability(CapabilityImages)
	if len(got) != 1 || got[0] != "img" {
		t.Errorf("ByCapability(images) = %v, want [img]", got)
	}
}
