// Package admission implements the Admission Controller (C3): bounded,
// per-(backend, capability) semaphores with fast-fail, no queueing. This
// is one of only two components (with healthgate) that hold cross-request
// mutable process-wide state (spec §5, §9).
package admission

import (
	"fmt"
	"sync"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
)

type key struct {
	backendID  string
	capability backend.Capability
}

// Stats describes one (backend, capability) gate for observability.
type Stats struct {
	Limit     int
	Available int
	Inflight  int
}

// Controller owns one counting semaphore per (backend, capability) pair,
// created once at startup from the Backend Registry and never resized.
type Controller struct {
	mu    sync.Mutex
	slots map[key]chan struct{}
	limit map[key]int
}

// New builds a Controller with one semaphore per declared capability of
// every backend in the registry.
func New(backends *backend.Registry) *Controller {
	c := &Controller{
		slots: make(map[key]chan struct{}),
		limit: make(map[key]int),
	}
	for _, id := range backends.List() {
		b, ok := backends.Get(id)
		if !ok {
			continue
		}
		for cap, n := range b.ConcurrencyLimits {
			k := key{backendID: id, capability: cap}
			c.slots[k] = make(chan struct{}, n)
			c.limit[k] = n
		}
	}
	return c
}

// ErrBackendOverloaded is returned by Acquire when no slot is free.
type ErrBackendOverloaded struct {
	Backend    string
	Capability backend.Capability
}

func (e *ErrBackendOverloaded) Error() string {
	return fmt.Sprintf("backend_overloaded: %s/%s", e.Backend, e.Capability)
}

// Acquire returns immediately: it takes a free slot or fails fast with
// ErrBackendOverloaded. It never blocks (spec §4.3: "no queueing").
func (c *Controller) Acquire(backendID string, capability backend.Capability) error {
	k := key{backendID: backendID, capability: capability}
	c.mu.Lock()
	ch, ok := c.slots[k]
	c.mu.Unlock()
	if !ok {
		// Unknown (backend, capability) pair — treat as unlimited/no-op so
		// callers outside the declared capability set aren't gated.
		return nil
	}
	select {
	case ch <- struct{}{}:
		return nil
	default:
		return &ErrBackendOverloaded{Backend: backendID, Capability: capability}
	}
}

// Release returns a slot. Safe to call even for unknown (backend,
// capability) pairs (matches an Acquire that was a no-op).
func (c *Controller) Release(backendID string, capability backend.Capability) {
	k := key{backendID: backendID, capability: capability}
	c.mu.Lock()
	ch, ok := c.slots[k]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-ch:
	default:
	}
}

// Stats returns a snapshot of every gate, keyed "backend.capability".
func (c *Controller) Stats() map[string]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Stats, len(c.slots))
	for k, ch := range c.slots {
		limit := c.limit[k]
		inflight := len(ch)
		out[fmt.Sprintf("%s.%s", k.backendID, k.capability)] = Stats{
			Limit:     limit,
			Available: limit - inflight,
			Inflight:  inflight,
		}
	}
	return out
}
