package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health serves GET/HEAD /health: a liveness probe for the gateway
// process itself, independent of any backend's state.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// HealthUpstreams serves GET /health/upstreams: the Health Gate's full
// snapshot, one entry per configured backend (spec §4.2).
func (h *Handlers) HealthUpstreams(c *gin.Context) {
	snapshot := h.app.HealthGate().Snapshot()
	out := make(map[string]gin.H, len(snapshot))
	for id, hh := range snapshot {
		out[id] = gin.H{
			"healthy":    hh.Healthy,
			"ready":      hh.Ready,
			"last_check": hh.LastCheck,
			"error":      hh.Error,
		}
	}
	c.JSON(http.StatusOK, gin.H{"backends": out})
}

// GatewayStatus serves GET /v1/gateway/status: health snapshot, admission
// stats, and registered LLM router providers in one call, for operators
// and dashboards (spec §4.11 "observability surface").
func (h *Handlers) GatewayStatus(c *gin.Context) {
	snapshot := h.app.HealthGate().Snapshot()
	backends := make(map[string]gin.H, len(snapshot))
	for id, hh := range snapshot {
		backends[id] = gin.H{"healthy": hh.Healthy, "ready": hh.Ready, "last_check": hh.LastCheck}
	}

	admissionStats := h.app.Admission().Stats()
	admissionOut := make(map[string]gin.H, len(admissionStats))
	for k, s := range admissionStats {
		admissionOut[k] = gin.H{"limit": s.Limit, "available": s.Available, "inflight": s.Inflight}
	}

	c.JSON(http.StatusOK, gin.H{
		"backends":    backends,
		"admission":   admissionOut,
		"llm_routing": h.app.LLMRouter().ListProviders(c.Request.Context()),
		"agents":      h.app.AgentSpecNames(),
	})
}
