package admission

import (
	"sync"
	"testing"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
)

func testRegistry(t *testing.T, limit int) *backend.Registry {
	t.Helper()
	r, err := backend.NewRegistry([]backend.Backend{{
		ID:                "gpu_heavy",
		BaseURL:           "http://gpu:8080",
		Capabilities:      []backend.Capability{backend.CapabilityImages},
		ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityImages: limit},
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestAcquireRelease_Basic(t *testing.T) {
	c := New(testRegistry(t, 1))

	if err := c.Acquire("gpu_heavy", backend.CapabilityImages); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	if err := c.Acquire("gpu_heavy", backend.CapabilityImages); err == nil {
		t.Fatal("second acquire should fail fast (limit=1)")
	}
	c.Release("gpu_heavy", backend.CapabilityImages)
	if err := c.Acquire("gpu_heavy", backend.CapabilityImages); err != nil {
		t.Fatalf("acquire after release should succeed: %v", err)
	}
}

func TestAcquire_ConcurrentTwoOfTwo(t *testing.T) {
	// spec §8 scenario 3: concurrency_limits.images=1, two concurrent
	// requests -> exactly one 200, one 429.
	c := New(testRegistry(t, 1))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Acquire("gpu_heavy", backend.CapabilityImages)
		}(i)
	}
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			failures++
		}
	}
	if successes != 1 || failures != 1 {
		t.Errorf("got %d successes, %d failures; want 1 and 1", successes, failures)
	}
}

func TestStats(t *testing.T) {
	c := New(testRegistry(t, 3))
	c.Acquire("gpu_heavy", backend.CapabilityImages)

	stats := c.Stats()
	s, ok := stats["gpu_heavy.images"]
	if !ok {
		t.Fatal("expected stats entry for gpu_heavy.images")
	}
	if s.Limit != 3 || s.Inflight != 1 || s.Available != 2 {
		t.Errorf("got %+v", s)
	}
}

func TestRelease_UnknownPairIsNoop(t *testing.T) {
	c := New(testRegistry(t, 1))
	c.Release("unknown", backend.CapabilityChat) // must not panic
}
