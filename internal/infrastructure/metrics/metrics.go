// Package metrics implements C11 Metrics & Request Log (spec §4.11):
// prometheus/client_golang counters and histograms exposed at GET
// /metrics, plus an append-only JSONL request log. Replaces the
// teacher's monitoring package, which hand-rolled its own Prometheus
// text-exposition format specifically to avoid this dependency — the
// dependency is already in go.mod and unwired, so we wire it instead.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry owns one private prometheus.Registry (not the global default,
// so tests can build independent instances) and the counters/histograms
// the request plane updates per call.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TimeToFirstByte *prometheus.HistogramVec
	ToolInvocations *prometheus.CounterVec
	AgentRuns       *prometheus.CounterVec
	BackendInflight *prometheus.GaugeVec
}

// New builds and registers the gateway's metric families.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests served, by route and status class.",
		}, []string{"path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		TimeToFirstByte: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_stream_ttfb_seconds",
			Help:    "Time to first streamed byte, for SSE routes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "backend"}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_invocations_total",
			Help: "Tool bus invocations by tool name and outcome.",
		}, []string{"tool", "ok"}),
		AgentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_agent_runs_total",
			Help: "Agent runtime runs by agent name and outcome reason.",
		}, []string{"agent", "reason"}),
		BackendInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_inflight",
			Help: "Current in-flight requests per (backend, capability).",
		}, []string{"backend", "capability"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TimeToFirstByte,
		m.ToolInvocations,
		m.AgentRuns,
		m.BackendInflight,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the Prometheus text exposition format for GET /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RequestLogEntry is one line of the append-only JSONL request log
// (spec §4.11: method, path, status, backend, model, router_reason,
// duration, and streaming-specific ttft/bytes/chunks).
type RequestLogEntry struct {
	Timestamp    int64   `json:"ts"`
	RequestID    string  `json:"request_id"`
	Method       string  `json:"method"`
	Path         string  `json:"path"`
	Status       int     `json:"status"`
	Backend      string  `json:"backend,omitempty"`
	Model        string  `json:"model,omitempty"`
	RouterReason string  `json:"router_reason,omitempty"`
	DurationMs   float64 `json:"duration_ms"`
	TTFBMs       float64 `json:"ttft_ms,omitempty"`
	BytesOut     int64   `json:"bytes_out,omitempty"`
	ChunksOut    int     `json:"chunks_out,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// RequestLog appends RequestLogEntry records to a single NDJSON file,
// mirroring the Tool Bus's own append-only log idiom
// (toolbus.appendJSONLine) rather than inventing a second log shape.
type RequestLog struct {
	mu   sync.Mutex
	path string
}

func NewRequestLog(path string) *RequestLog {
	return &RequestLog{path: path}
}

func (l *RequestLog) Append(e RequestLogEntry) error {
	if l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
