package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
	"github.com/ngoclaw/ai-gateway/internal/domain/route"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

type embeddingsRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

type embeddingsResponse struct {
	Object string            `json:"object"`
	Model  string            `json:"model"`
	Data   []embeddingRecord `json:"data"`
}

type embeddingRecord struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Embeddings serves POST /v1/embeddings: routes by model exactly like
// chat (no messages, no tools), admits and health-gates against the
// embeddings capability, and normalizes both dialects' vectors into the
// OpenAI list shape (spec §4.6).
func (h *Handlers) Embeddings(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	var req embeddingsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		badRequest(c, "malformed embeddings request body")
		return
	}

	inputs, err := decodeInputs(req.Input)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	decision := route.Decide(h.app.RouteConfig(), req.Model, requestHeaders(c), nil, false)
	setRouteContext(c, decision.Backend, decision.Model, decision.Reason)

	b, ok := h.app.Backends().Get(decision.Backend)
	if !ok {
		renderError(c, apperrors.NewNotFound("router selected unknown backend: "+decision.Backend))
		return
	}
	if !b.HasCapability(backend.CapabilityEmbeddings) {
		renderError(c, apperrors.NewCapabilityUnsupported("backend "+b.ID+" does not support embeddings"))
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

	client, ok := h.app.Upstream(b.ID)
	if !ok {
		renderError(c, apperrors.NewInternal("no upstream client wired for backend "+b.ID, nil))
		return
	}

	vectors, err := client.Embeddings(c.Request.Context(), inputs, decision.Model)
	if err != nil {
		renderError(c, err)
		return
	}

	c.Header("X-Backend-Used", b.ID)
	c.Header("X-Model-Used", decision.Model)

	data := make([]embeddingRecord, 0, len(vectors))
	for i, v := range vectors {
		data = append(data, embeddingRecord{Object: "embedding", Index: i, Embedding: v})
	}
	c.JSON(http.StatusOK, embeddingsResponse{Object: "list", Model: decision.Model, Data: data})
}

func decodeInputs(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, apperrors.NewInvalidInput("input must be a string or array of strings")
}
