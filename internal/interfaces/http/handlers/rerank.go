package handlers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
	"github.com/ngoclaw/ai-gateway/internal/domain/route"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

// Rerank serves POST /v1/rerank. The backend catalog has no dedicated
// rerank capability (spec §3 lists chat/embeddings/images/music/tts),
// so rerank requests are admitted against the embeddings gate — the
// same backends that serve embeddings are the ones capable of scoring
// query/document pairs.
func (h *Handlers) Rerank(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		badRequest(c, "malformed rerank request body")
		return
	}

	decision := route.Decide(h.app.RouteConfig(), probe.Model, requestHeaders(c), nil, false)
	setRouteContext(c, decision.Backend, decision.Model, decision.Reason)

	b, ok := h.app.Backends().Get(decision.Backend)
	if !ok {
		renderError(c, apperrors.NewNotFound("router selected unknown backend: "+decision.Backend))
		return
	}
	if !b.HasCapability(backend.CapabilityEmbeddings) {
		renderError(c, apperrors.NewCapabilityUnsupported("backend "+b.ID+" does not support rerank"))
		return
	}
	if healthErr := h.app.HealthGate().CheckBackendReady(b.ID); healthErr != nil {
		renderError(c, healthErr)
		return
	}
	if err := h.app.Admission().Acquire(b.ID, backend.CapabilityEmbeddings); err != nil {
		renderError(c, apperrors.NewBackendOverloaded(err.Error()))
		return
	}
	defer h.app.Admission().Release(b.ID, backend.CapabilityEmbeddings)

	body, err := sjson.SetBytes(raw, "model", decision.Model)
	if err != nil {
		body = raw
	}

	out, status, err := forwardRaw(c.Request.Context(), b.BaseURL, "/rerank", body)
	if err != nil {
		renderError(c, err)
		return
	}
	c.Header("X-Backend-Used", b.ID)
	c.Header("X-Model-Used", decision.Model)
	c.Data(status, "application/json", out)
}
