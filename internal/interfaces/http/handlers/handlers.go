// Package handlers implements the Request Plane (C10): the HTTP
// surface translating spec §6's route table into calls against the
// Router, Admission Controller, Health Gate, Upstream Clients, Tool
// Bus, and Agent Runtime built by the composition root
// (internal/application.App). Grounded on the teacher's gin handler
// package layout, rebuilt around the gateway's own routes instead of
// ProcessMessageUseCase.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/application"
	"github.com/ngoclaw/ai-gateway/internal/domain/agentrun"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

// Handlers holds the one App instance every route handler reads from.
type Handlers struct {
	app    *application.App
	logger *zap.Logger

	// runs holds completed agent runs in-process for GET
	// /v1/agent/replay/{run_id}; each run is also appended to
	// app.Config().Agent.RunsLogPath, but replay reads only this map.
	runs sync.Map // run_id -> *agentrun.Result
}

func New(app *application.App) *Handlers {
	return &Handlers{app: app, logger: app.Logger()}
}

func (h *Handlers) rememberRun(res *agentrun.Result) {
	if res == nil {
		return
	}
	h.runs.Store(res.RunID, res)
}

func (h *Handlers) lookupRun(runID string) (*agentrun.Result, bool) {
	v, ok := h.runs.Load(runID)
	if !ok {
		return nil, false
	}
	return v.(*agentrun.Result), true
}

// renderError translates an error into the HTTP status + JSON body spec
// §7 prescribes: *pkg/errors.AppError carries its own code, anything
// else is an opaque 500.
func renderError(c *gin.Context, err error) {
	appErr, ok := asAppError(err)
	if !ok {
		appErr = apperrors.NewInternal("internal error", err)
	}
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	c.JSON(apperrors.HTTPStatus(appErr.Code), gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

func asAppError(err error) (*apperrors.AppError, bool) {
	var appErr *apperrors.AppError
	ok := err != nil && errors.As(err, &appErr)
	return appErr, ok
}

func requestHeaders(c *gin.Context) map[string]string {
	return map[string]string{
		"x-backend": c.GetHeader("X-Backend"),
	}
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func badRequest(c *gin.Context, msg string) {
	renderError(c, apperrors.NewInvalidInput(msg))
}

func notFound(c *gin.Context, msg string) {
	renderError(c, apperrors.NewNotFound(msg))
}

// setRouteContext stashes the routing decision on the gin context so the
// metrics/request-log middleware (internal/interfaces/http/server.go) can
// enrich its log entry without the handler having to touch the log
// itself — one request, one log line.
func setRouteContext(c *gin.Context, backendID, model, reason string) {
	c.Set("route_backend", backendID)
	c.Set("route_model", model)
	c.Set("route_reason", reason)
}

// rawHTTPClient is shared by the handlers (images/music/tts/rerank) that
// have no dedicated dialect translator and simply forward the request
// body to a backend path verbatim, the way the Upstream Clients (C6)
// tune their own transport.
var rawHTTPClient = upstream.NewHTTPClient()

// forwardRaw POSTs body to baseURL+path and returns the raw response
// bytes and status, for capabilities the dialect clients don't model
// (images, music, tts, rerank all pass through as opaque JSON).
func forwardRaw(ctx context.Context, baseURL, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperrors.NewInternal("building upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := rawHTTPClient.Do(req)
	if err != nil {
		return nil, 0, apperrors.NewUpstreamError("upstream request failed", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperrors.NewUpstreamError("reading upstream response", err)
	}
	return out, resp.StatusCode, nil
}
