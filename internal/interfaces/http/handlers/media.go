package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
	"github.com/ngoclaw/ai-gateway/internal/domain/route"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/imagestore"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

// mediaRoute bundles the per-capability wiring shared by images, music,
// and tts: they all route by model, admit/health-gate against their own
// capability, forward verbatim, then add a gateway-served proxy URL for
// any embedded base64 payload (spec §3 "audio_url rewritten to a
// gateway-served proxy path").
type mediaRoute struct {
	capability  backend.Capability
	backendPath string
	b64Paths    []string // gjson paths of the base64 fields; rewriteMediaPayload checks the same fields by name
	ext         string
}

var (
	imagesRoute = mediaRoute{capability: backend.CapabilityImages, backendPath: "/images/generations", b64Paths: []string{"data.#.b64_json"}, ext: ".png"}
	musicRoute  = mediaRoute{capability: backend.CapabilityMusic, backendPath: "/music/generations", b64Paths: []string{"data.#.b64_audio"}, ext: ".mp3"}
	ttsRoute    = mediaRoute{capability: backend.CapabilityTTS, backendPath: "/audio/speech", b64Paths: []string{"audio"}, ext: ".mp3"}
)

// Images serves POST /v1/images/generations.
func (h *Handlers) Images(c *gin.Context) { h.handleMedia(c, imagesRoute) }

// Music serves POST /v1/music/generations.
func (h *Handlers) Music(c *gin.Context) { h.handleMedia(c, musicRoute) }

// TTS serves POST /v1/tts.
func (h *Handlers) TTS(c *gin.Context) { h.handleMedia(c, ttsRoute) }

func (h *Handlers) handleMedia(c *gin.Context, mr mediaRoute) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	var probe struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(raw, &probe)

	decision := route.Decide(h.app.RouteConfig(), probe.Model, requestHeaders(c), nil, false)
	setRouteContext(c, decision.Backend, decision.Model, decision.Reason)

	b, ok := h.app.Backends().Get(decision.Backend)
	if !ok {
		renderError(c, apperrors.NewNotFound("router selected unknown backend: "+decision.Backend))
		return
	}
	if !b.HasCapability(mr.capability) {
		renderError(c, apperrors.NewCapabilityUnsupported("backend "+b.ID+" does not support "+string(mr.capability)))
		return
	}
	if healthErr := h.app.HealthGate().CheckBackendReady(b.ID); healthErr != nil {
		renderError(c, healthErr)
		return
	}
	if err := h.app.Admission().Acquire(b.ID, mr.capability); err != nil {
		renderError(c, apperrors.NewBackendOverloaded(err.Error()))
		return
	}
	defer h.app.Admission().Release(b.ID, mr.capability)

	body, err := sjson.SetBytes(raw, "model", decision.Model)
	if err != nil {
		body = raw
	}

	out, status, err := forwardRaw(c.Request.Context(), b.BaseURL, mr.backendPath, body)
	if err != nil {
		renderError(c, err)
		return
	}
	if status < 200 || status >= 300 {
		c.Data(status, "application/json", out)
		return
	}

	rewritten, err := h.rewriteMediaPayload(out, mr.ext)
	if err != nil {
		h.logger.Warn("media payload rewrite failed, returning raw upstream body")
		c.Data(status, "application/json", out)
		return
	}
	c.Header("X-Backend-Used", b.ID)
	c.Header("X-Model-Used", decision.Model)
	c.Data(status, "application/json", rewritten)
}

// rewriteMediaPayload finds every base64 blob at data.#.b64_json,
// data.#.b64_audio, or audio, stores it in the image store, and sets a
// gateway-served proxy URL beside it (data.#.url or audio_url). The
// base64 fields themselves are left in the response body.
func (h *Handlers) rewriteMediaPayload(body []byte, ext string) ([]byte, error) {
	result := gjson.ParseBytes(body)
	out := body

	if arr := result.Get("data"); arr.IsArray() {
		for i, item := range arr.Array() {
			for _, key := range []string{"b64_json", "b64_audio"} {
				b64 := item.Get(key)
				if !b64.Exists() || b64.String() == "" {
					continue
				}
				url, err := h.storeBase64(b64.String(), ext)
				if err != nil {
					return nil, err
				}
				path := "data." + strconv.Itoa(i) + ".url"
				var setErr error
				out, setErr = sjson.SetBytes(out, path, url)
				if setErr != nil {
					return nil, setErr
				}
			}
		}
		return out, nil
	}

	if audio := result.Get("audio"); audio.Exists() && audio.String() != "" {
		url, err := h.storeBase64(audio.String(), ext)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(out, "audio_url", url)
	}
	return out, nil
}

func (h *Handlers) storeBase64(b64 string, ext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	id, err := h.app.ImageStore().Put(data, ext)
	if err != nil {
		return "", err
	}
	return imagestore.URL(id), nil
}

// ServeMedia serves GET /v1/media/:id, streaming back media previously
// stored by an images/music/tts call.
func (h *Handlers) ServeMedia(c *gin.Context) {
	id := c.Param("id")
	path, ok := h.app.ImageStore().Path(id)
	if !ok {
		notFound(c, "media not found or expired: "+id)
		return
	}
	c.File(path)
}

