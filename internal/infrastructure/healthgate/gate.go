// Package healthgate implements the Health Gate (C2): a background prober
// that tracks liveness/readiness per backend and gates requests against
// not-ready backends. Grounded on original_source/app/health_checker.py's
// exact optimistic-start and liveness-then-readiness semantics, using the
// teacher's zap logging and safego.Go goroutine-panic-recovery idiom.
package healthgate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
	"github.com/ngoclaw/ai-gateway/pkg/safego"
)

// Health is the BackendHealth record from spec §3.
type Health struct {
	Backend   string
	Healthy   bool
	Ready     bool
	LastCheck time.Time
	Error     string
}

// Gate probes every backend on an interval and serves is_ready queries
// from an in-memory, mutex-guarded table. It is one of the two components
// (with admission.Controller) that hold cross-request mutable state.
type Gate struct {
	mu            sync.RWMutex
	health        map[string]Health
	backends      *backend.Registry
	httpClient    *http.Client
	checkInterval time.Duration
	probeTimeout  time.Duration
	logger        *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config controls probe cadence and per-probe timeout (spec §4.2 defaults).
type Config struct {
	CheckInterval time.Duration // default 30s
	ProbeTimeout  time.Duration // default 5s
}

func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Second, ProbeTimeout: 5 * time.Second}
}

// New constructs a Gate with optimistic initial state: every known backend
// starts ready=true, healthy=true, before any probe has run.
func New(backends *backend.Registry, cfg Config, logger *zap.Logger) *Gate {
	g := &Gate{
		health:        make(map[string]Health),
		backends:      backends,
		httpClient:    &http.Client{Timeout: cfg.ProbeTimeout},
		checkInterval: cfg.CheckInterval,
		probeTimeout:  cfg.ProbeTimeout,
		logger:        logger.With(zap.String("component", "health-gate")),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, id := range backends.List() {
		g.health[id] = Health{Backend: id, Healthy: true, Ready: true}
	}
	return g
}

// Start launches the background probe loop. Call Stop to terminate it.
func (g *Gate) Start(ctx context.Context) {
	safego.Go(g.logger, "health-probe-loop", func() {
		defer close(g.doneCh)
		ticker := time.NewTicker(g.checkInterval)
		defer ticker.Stop()
		g.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stopCh:
				return
			case <-ticker.C:
				g.probeAll(ctx)
			}
		}
	})
}

// Stop signals the probe loop to exit and waits for it to finish.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	<-g.doneCh
}

func (g *Gate) probeAll(ctx context.Context) {
	for _, id := range g.backends.List() {
		b, ok := g.backends.Get(id)
		if !ok {
			continue
		}
		safego.Go(g.logger, "probe-"+id, func() {
			g.probeOne(ctx, b)
		})
	}
}

func (g *Gate) probeOne(ctx context.Context, b backend.Backend) {
	probeCtx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	h := Health{Backend: b.ID, LastCheck: time.Now()}

	liveOK := g.get(probeCtx, b.BaseURL+b.LivenessPath)
	h.Healthy = liveOK
	if !liveOK {
		h.Error = "liveness check failed"
		g.set(b.ID, h)
		return
	}

	// Readiness is only checked if liveness succeeded (spec §4.2).
	readyOK := g.get(probeCtx, b.BaseURL+b.ReadinessPath)
	h.Ready = readyOK
	if !readyOK {
		h.Error = "readiness check failed"
	}
	g.set(b.ID, h)
}

func (g *Gate) get(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *Gate) set(id string, h Health) {
	g.mu.Lock()
	g.health[id] = h
	g.mu.Unlock()
	g.logger.Debug("probe result",
		zap.String("backend", id),
		zap.Bool("healthy", h.Healthy),
		zap.Bool("ready", h.Ready),
	)
}

// IsReady reports readiness for a backend. Before any probe completes, the
// backend is optimistically ready (spec §4.2).
func (g *Gate) IsReady(backendID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.health[backendID]
	if !ok {
		return true
	}
	return h.Ready
}

// Snapshot returns the health table for the /health/upstreams and
// /v1/gateway/status endpoints.
func (g *Gate) Snapshot() map[string]Health {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Health, len(g.health))
	for k, v := range g.health {
		out[k] = v
	}
	return out
}

// CheckBackendReady returns a *errors.AppError with HTTP 503 and
// Retry-After: 30 if the backend isn't ready (spec §4.2).
func (g *Gate) CheckBackendReady(backendID string) *apperrors.AppError {
	g.mu.RLock()
	h, ok := g.health[backendID]
	g.mu.RUnlock()
	if !ok || h.Ready {
		return nil
	}
	err := apperrors.NewBackendNotReady("backend not ready")
	err.Message = h.Backend
	return err
}
