package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/application/agentloop"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

type agentRunRequest struct {
	Agent string `json:"agent"`
	Input string `json:"input"`
}

// AgentRun serves POST /v1/agent/run: executes one bounded plan/act/
// observe loop for a declared agent spec and returns its Result (spec
// §4.9).
func (h *Handlers) AgentRun(c *gin.Context) {
	var req agentRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed agent run request")
		return
	}
	if req.Agent == "" {
		badRequest(c, "agent is required")
		return
	}
	spec, ok := h.app.AgentSpec(req.Agent)
	if !ok {
		notFound(c, "unknown agent: "+req.Agent)
		return
	}

	result, err := h.app.AgentRuntime().Run(c.Request.Context(), spec, req.Input)
	if errors.Is(err, agentloop.ErrShedHeavy) {
		renderError(c, apperrors.NewBackendOverloaded("shed_heavy"))
		return
	}
	if err != nil && result == nil {
		renderError(c, apperrors.NewInternal("agent run failed", err))
		return
	}

	h.rememberRun(result)
	h.persistRun(result)

	c.JSON(http.StatusOK, result)
}

// AgentReplay serves GET /v1/agent/replay/{run_id}: the transcript and
// outcome of a run recorded by this process. Runs from before a restart
// are not read back from the runs log and return 404.
func (h *Handlers) AgentReplay(c *gin.Context) {
	runID := c.Param("run_id")
	result, ok := h.lookupRun(runID)
	if !ok {
		notFound(c, "no run recorded for run_id: "+runID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListAgents serves GET /v1/agent: the declared agent names, for
// dashboards and clients discovering what's runnable.
func (h *Handlers) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.app.AgentSpecNames()})
}

// persistRun appends the finished run to the agent runs NDJSON log
// (spec §6 agent.runs_log_path), mirroring the Tool Bus's own
// append-only log idiom rather than inventing a second shape.
func (h *Handlers) persistRun(result interface{}) {
	path := h.app.Config().Agent.RunsLogPath
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.logger.Warn("agent run log mkdir failed", zap.Error(err))
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		h.logger.Warn("agent run log open failed", zap.Error(err))
		return
	}
	defer f.Close()
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		h.logger.Warn("agent run log write failed", zap.Error(err))
	}
}
