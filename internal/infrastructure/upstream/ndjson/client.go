// Package ndjson is the NDJSON (Ollama-style) dialect client, the other
// half of C6 Upstream Clients. Grounded on the teacher's
// internal/infrastructure/embedding/ollama_embedder.go for the
// /api/embed → /api/embeddings fallback shape, confirmed against
// original_source/app/upstreams.py.
package ndjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  upstream.NewHTTPClient(),
		logger:  logger.With(zap.String("component", "upstream-ndjson")),
	}
}

// chatRequest reshapes an incoming OpenAI-style body into the NDJSON
// dialect's /api/chat payload (spec §4.6).
type chatRequest struct {
	Model    string           `json:"model"`
	Messages []map[string]any `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
	Stream   bool             `json:"stream"`
}

func (c *Client) buildChatRequest(body []byte, stream bool) ([]byte, error) {
	var incoming map[string]any
	if err := json.Unmarshal(body, &incoming); err != nil {
		return nil, apperrors.NewInvalidInput("malformed chat request body")
	}
	req := chatRequest{Stream: stream}
	if m, ok := incoming["model"].(string); ok {
		req.Model = m
	}
	if msgs, ok := incoming["messages"].([]any); ok {
		for _, m := range msgs {
			if mm, ok := m.(map[string]any); ok {
				req.Messages = append(req.Messages, mm)
			}
		}
	}
	if tools, ok := incoming["tools"].([]any); ok {
		for _, t := range tools {
			if tt, ok := t.(map[string]any); ok {
				req.Tools = append(req.Tools, tt)
			}
		}
	}
	if temp, ok := incoming["temperature"]; ok {
		req.Options = map[string]any{"temperature": temp}
	}
	return json.Marshal(req)
}

func (c *Client) ChatCompletions(ctx context.Context, body []byte) ([]byte, int, error) {
	reqBody, err := c.buildChatRequest(body, false)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.post(ctx, "/api/chat", reqBody)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperrors.NewUpstreamError("reading upstream response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, resp.StatusCode, apperrors.NewUpstreamError(fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}
	return out, resp.StatusCode, nil
}

func (c *Client) ChatCompletionsStream(ctx context.Context, body []byte) (io.ReadCloser, int, error) {
	reqBody, err := c.buildChatRequest(body, true)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.post(ctx, "/api/chat", reqBody)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, resp.StatusCode, apperrors.NewUpstreamError(fmt.Sprintf("upstream status %d: %s", resp.StatusCode, out), nil)
	}
	return resp.Body, resp.StatusCode, nil
}

// Embeddings tries the new batch /api/embed first, falling back to one
// call per input against the older /api/embeddings (spec §4.6, grounded
// on the teacher's OllamaEmbedder.doEmbed retry/shape handling).
func (c *Client) Embeddings(ctx context.Context, inputs []string, model string) ([][]float64, error) {
	if vecs, err := c.embedBatch(ctx, inputs, model); err == nil {
		return vecs, nil
	}
	out := make([][]float64, 0, len(inputs))
	for _, in := range inputs {
		vec, err := c.embedLegacyOne(ctx, in, model)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, inputs []string, model string) ([][]float64, error) {
	payload, _ := json.Marshal(map[string]any{"model": model, "input": inputs})
	resp, err := c.post(ctx, "/api/embed", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}
	var parsed struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewUpstreamError("decoding embeddings", err)
	}
	if len(parsed.Embeddings) != len(inputs) {
		return nil, apperrors.NewUpstreamError("embeddings count mismatch", nil)
	}
	return parsed.Embeddings, nil
}

func (c *Client) embedLegacyOne(ctx context.Context, input, model string) ([]float64, error) {
	payload, _ := json.Marshal(map[string]any{"model": model, "prompt": input})
	resp, err := c.post(ctx, "/api/embeddings", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}
	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewUpstreamError("decoding embedding", err)
	}
	return parsed.Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternal("building upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamError("upstream request failed", err)
	}
	return resp, nil
}
