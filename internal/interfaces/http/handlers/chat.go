package handlers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
	"github.com/ngoclaw/ai-gateway/internal/domain/chat"
	"github.com/ngoclaw/ai-gateway/internal/domain/route"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/streaming"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

// ChatCompletions serves POST /v1/chat/completions: the Request Plane's
// core path (spec §4.5-§4.7). It routes, admits, health-gates, then
// forwards the body, with "model" set to the decided upstream model, to
// the decided backend's dialect client,
// streaming or not per the request's own stream flag.
func (h *Handlers) ChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}

	var req chat.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		badRequest(c, "malformed chat request body")
		return
	}

	routeMessages := make([]route.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		routeMessages = append(routeMessages, route.Message{Role: string(m.Role), Content: m.Content})
	}

	decision := route.Decide(h.app.RouteConfig(), req.Model, requestHeaders(c), routeMessages, req.HasTools())
	setRouteContext(c, decision.Backend, decision.Model, decision.Reason)

	b, ok := h.app.Backends().Get(decision.Backend)
	if !ok {
		renderError(c, apperrors.NewNotFound("router selected unknown backend: "+decision.Backend))
		return
	}
	if !b.HasCapability(backend.CapabilityChat) {
		renderError(c, apperrors.NewCapabilityUnsupported("backend "+b.ID+" does not support chat"))
		return
	}
	if healthErr := h.app.HealthGate().CheckBackendReady(b.ID); healthErr != nil {
		renderError(c, healthErr)
		return
	}
	if err := h.app.Admission().Acquire(b.ID, backend.CapabilityChat); err != nil {
		renderError(c, apperrors.NewBackendOverloaded(err.Error()))
		return
	}
	defer h.app.Admission().Release(b.ID, backend.CapabilityChat)

	client, ok := h.app.Upstream(b.ID)
	if !ok {
		renderError(c, apperrors.NewInternal("no upstream client wired for backend "+b.ID, nil))
		return
	}

	body, err := sjson.SetBytes(raw, "model", decision.Model)
	if err != nil {
		body = raw
	}

	c.Header("X-Backend-Used", b.ID)
	c.Header("X-Model-Used", decision.Model)
	c.Header("X-Router-Reason", decision.Reason)

	if req.Stream {
		h.streamChat(c, client, body, b, decision.Model)
		return
	}
	h.nonStreamChat(c, client, body, b, decision.Model)
}

func (h *Handlers) streamChat(c *gin.Context, client upstream.Client, body []byte, b backend.Backend, model string) {
	respBody, status, err := client.ChatCompletionsStream(c.Request.Context(), body)
	if err != nil {
		renderError(c, err)
		return
	}
	stop := upstream.WatchCancellation(c.Request.Context(), respBody)
	defer stop()
	defer respBody.Close()

	c.Status(status)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	var translateErr error
	if b.PayloadPolicy.Dialect == "ndjson" {
		translateErr = streaming.TranslateNDJSON(c.Request.Context(), respBody, c.Writer, model)
	} else {
		translateErr = streaming.PassthroughSSE(c.Request.Context(), respBody, c.Writer)
	}
	if translateErr != nil {
		h.logger.Warn("stream translation ended with error", zap.Error(translateErr))
	}
}

func (h *Handlers) nonStreamChat(c *gin.Context, client upstream.Client, body []byte, b backend.Backend, model string) {
	out, status, err := client.ChatCompletions(c.Request.Context(), body)
	if err != nil {
		renderError(c, err)
		return
	}
	if b.PayloadPolicy.Dialect == "ndjson" {
		resp := ndjsonToChatResponse(out, model)
		c.JSON(status, resp)
		return
	}
	c.Data(status, "application/json", out)
}

// ndjsonToChatResponse converts one raw Ollama-shaped /api/chat response
// into the OpenAI chat.completion shape, so callers never see the raw
// upstream dialect on the non-streamed path (spec §4.6 dual-dialect
// transparency).
func ndjsonToChatResponse(raw []byte, model string) chat.Response {
	content := gjson.GetBytes(raw, "message.content").String()
	reason := gjson.GetBytes(raw, "done_reason").String()
	if reason == "" {
		reason = "stop"
	}
	return chat.Response{
		Object:  "chat.completion",
		Model:   model,
		Choices: []chat.Choice{{Index: 0, Message: chat.Message{Role: chat.RoleAssistant, Content: content}, FinishReason: reason}},
	}
}

