package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListTools serves GET /v1/tools: the effective allowlist's declarations
// (spec §4.8).
func (h *Handlers) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.app.ToolBus().List()})
}

// InvokeTool serves POST /v1/tools/{name}: the full invocation pipeline
// (resolve, allowlist, schema validate, hash, execute, log).
func (h *Handlers) InvokeTool(c *gin.Context) {
	name := c.Param("name")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	var args map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			badRequest(c, "malformed tool arguments")
			return
		}
	}

	rec, err := h.app.ToolBus().Invoke(c.Request.Context(), name, args)
	if err != nil && rec == nil {
		renderError(c, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, rec)
}

// ReplayTool serves GET /v1/tools/replay/{replay_id}: the persisted
// invocation record for a past call (spec §4.8 step 5).
func (h *Handlers) ReplayTool(c *gin.Context) {
	replayID := c.Param("replay_id")
	rec, ok := h.app.ToolBus().Replay(replayID)
	if !ok {
		notFound(c, "no invocation record for replay_id: "+replayID)
		return
	}
	c.JSON(http.StatusOK, rec)
}
