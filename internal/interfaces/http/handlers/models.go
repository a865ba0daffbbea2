package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type modelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels serves GET /v1/models: the union of every configured alias
// name and every backend's strong/fast model, in the OpenAI models-list
// shape (spec §4.4 Model Alias Registry surfaced to clients).
func (h *Handlers) ListModels(c *gin.Context) {
	now := time.Now().Unix()
	seen := map[string]bool{}
	var out []modelCard

	for _, a := range h.app.Aliases().List() {
		if seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, modelCard{ID: a.Name, Object: "model", Created: now, OwnedBy: a.Backend})
	}
	for _, id := range h.app.Backends().List() {
		b, ok := h.app.Backends().Get(id)
		if !ok {
			continue
		}
		for _, m := range []string{b.StrongModel, b.FastModel} {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, modelCard{ID: m, Object: "model", Created: now, OwnedBy: b.ID})
		}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
}

// GetModel serves GET /v1/models/{id}: 404 unless the id resolves
// through the alias table or a backend's declared model list.
func (h *Handlers) GetModel(c *gin.Context) {
	id := c.Param("id")
	now := time.Now().Unix()

	if a, ok := h.app.Aliases().Lookup(id); ok {
		c.JSON(http.StatusOK, modelCard{ID: a.Name, Object: "model", Created: now, OwnedBy: a.Backend})
		return
	}
	for _, backendID := range h.app.Backends().List() {
		b, ok := h.app.Backends().Get(backendID)
		if !ok {
			continue
		}
		if id == b.StrongModel || id == b.FastModel {
			c.JSON(http.StatusOK, modelCard{ID: id, Object: "model", Created: now, OwnedBy: b.ID})
			return
		}
	}
	notFound(c, "unknown model: "+id)
}
