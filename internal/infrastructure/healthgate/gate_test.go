package healthgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
)

func TestIsReady_OptimisticBeforeFirstProbe(t *testing.T) {
	reg, _ := backend.NewRegistry([]backend.Backend{{
		ID:                "gpu",
		BaseURL:           "http://unreachable.invalid:1",
		Capabilities:      []backend.Capability{backend.CapabilityChat},
		ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 1},
		LivenessPath:      "/live",
		ReadinessPath:     "/ready",
	}})
	g := New(reg, DefaultConfig(), zap.NewNop())

	if !g.IsReady("gpu") {
		t.Error("backend should be optimistically ready before any probe completes")
	}
}

func TestProbeOne_LivenessFailureMeansNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg, _ := backend.NewRegistry([]backend.Backend{{
		ID:                "gpu",
		BaseURL:           srv.URL,
		Capabilities:      []backend.Capability{backend.CapabilityChat},
		ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 1},
		LivenessPath:      "/live",
		ReadinessPath:     "/ready",
	}})
	g := New(reg, Config{CheckInterval: time.Hour, ProbeTimeout: time.Second}, zap.NewNop())

	b, _ := reg.Get("gpu")
	g.probeOne(context.Background(), b)

	if g.IsReady("gpu") {
		t.Error("expected not ready after failed liveness probe")
	}
}

func TestProbeOne_ReadinessOnlyCheckedAfterLivenessOK(t *testing.T) {
	var readinessHit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live":
			w.WriteHeader(http.StatusOK)
		case "/ready":
			readinessHit = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	reg, _ := backend.NewRegistry([]backend.Backend{{
		ID:                "gpu",
		BaseURL:           srv.URL,
		Capabilities:      []backend.Capability{backend.CapabilityChat},
		ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 1},
		LivenessPath:      "/live",
		ReadinessPath:     "/ready",
	}})
	g := New(reg, Config{CheckInterval: time.Hour, ProbeTimeout: time.Second}, zap.NewNop())
	b, _ := reg.Get("gpu")
	g.probeOne(context.Background(), b)

	if !readinessHit {
		t.Error("readiness endpoint should be hit after liveness succeeds")
	}
	if !g.IsReady("gpu") {
		t.Error("expected ready after both probes succeed")
	}
}

func TestCheckBackendReady_ReturnsAppErrorWithRetryAfter(t *testing.T) {
	reg, _ := backend.NewRegistry([]backend.Backend{{
		ID:                "gpu",
		BaseURL:           "http://unreachable.invalid:1",
		Capabilities:      []backend.Capability{backend.CapabilityChat},
		ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 1},
	}})
	g := New(reg, DefaultConfig(), zap.NewNop())
	g.set("gpu", Health{Backend: "gpu", Ready: false, Error: "down"})

	err := g.CheckBackendReady("gpu")
	if err == nil {
		t.Fatal("expected not-ready error")
	}
	if err.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", err.RetryAfter)
	}
}

func TestStartStop(t *testing.T) {
	reg, _ := backend.NewRegistry([]backend.Backend{{
		ID:                "gpu",
		BaseURL:           "http://unreachable.invalid:1",
		Capabilities:      []backend.Capability{backend.CapabilityChat},
		ConcurrencyLimits: map[backend.Capability]int{backend.CapabilityChat: 1},
	}})
	g := New(reg, Config{CheckInterval: time.Millisecond, ProbeTimeout: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	cancel()
	g.Stop()
}
