package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ai-gateway/internal/domain/memory"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

func (h *Handlers) memoryEnabled(c *gin.Context) bool {
	if h.app.MemoryManager() != nil {
		return true
	}
	renderError(c, apperrors.NewCapabilityUnsupported("memory is not enabled on this gateway"))
	return false
}

type memoryUpsertRequest struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

// MemoryUpsert serves POST /v1/memory/upsert (spec §3 Memory Contract
// supplement).
func (h *Handlers) MemoryUpsert(c *gin.Context) {
	if !h.memoryEnabled(c) {
		return
	}
	var req memoryUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed memory upsert request")
		return
	}
	if req.Content == "" {
		badRequest(c, "content is required")
		return
	}
	entry, err := h.app.MemoryManager().Remember(c.Request.Context(), req.Content, req.Metadata)
	if err != nil {
		renderError(c, apperrors.NewInternal("failed to store memory", err))
		return
	}
	c.JSON(http.StatusOK, entry)
}

type memorySearchRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	MinScore  float32 `json:"min_score"`
}

// MemorySearch serves POST /v1/memory/search.
func (h *Handlers) MemorySearch(c *gin.Context) {
	if !h.memoryEnabled(c) {
		return
	}
	var req memorySearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed memory search request")
		return
	}
	if req.Query == "" {
		badRequest(c, "query is required")
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.app.Config().Memory.TopK
	}
	minScore := req.MinScore
	if minScore == 0 {
		minScore = float32(h.app.Config().Memory.MinSim)
	}
	filter := &memory.SearchFilter{UserID: req.UserID, SessionID: req.SessionID, MinScore: minScore}
	results, err := h.app.MemoryManager().Recall(c.Request.Context(), req.Query, topK, filter)
	if err != nil {
		renderError(c, apperrors.NewInternal("failed to search memory", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// MemoryList serves GET /v1/memory/list?session_id=...: every memory
// stored for a session, most useful for debugging and UI inspection.
func (h *Handlers) MemoryList(c *gin.Context) {
	if !h.memoryEnabled(c) {
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		badRequest(c, "session_id query parameter is required")
		return
	}
	// GetBySession isn't exposed on the Manager, so this is a
	// session-filtered Recall that uses the session id itself as the query
	// text, with a wide top_k (1000).
	results, err := h.app.MemoryManager().Recall(c.Request.Context(), sessionID, 1000, &memory.SearchFilter{SessionID: sessionID})
	if err != nil {
		renderError(c, apperrors.NewInternal("failed to list memory", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type memoryCompactRequest struct {
	SessionID string `json:"session_id"`
	MaxAgeSec int64  `json:"max_age_sec"`
}

// MemoryCompact serves POST /v1/memory/compact (spec §3 supplemented
// feature): deletes memories in a session older than max_age_sec.
func (h *Handlers) MemoryCompact(c *gin.Context) {
	if !h.memoryEnabled(c) {
		return
	}
	var req memoryCompactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed memory compact request")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "session_id is required")
		return
	}
	maxAge := time.Duration(req.MaxAgeSec) * time.Second
	if req.MaxAgeSec <= 0 {
		maxAge = time.Duration(h.app.Config().Memory.MaxAgeSec) * time.Second
	}
	removed, err := h.app.MemoryManager().Compact(c.Request.Context(), req.SessionID, maxAge)
	if err != nil {
		renderError(c, apperrors.NewInternal("failed to compact memory", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
