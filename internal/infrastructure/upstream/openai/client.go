// Package openai is the OpenAI-compatible dialect client (half of C6
// Upstream Clients), grounded on the teacher's
// internal/infrastructure/llm/openai/provider.go. Unlike the teacher's
// provider, it forwards request bodies verbatim (spec §4.6) instead of
// decoding into an internal LLMRequest shape, since the gateway's job is
// to proxy, not to normalize into its own schema.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/infrastructure/streaming"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

// Client talks the OpenAI wire dialect to one backend base URL.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  upstream.NewHTTPClient(),
		logger:  logger.With(zap.String("component", "upstream-openai")),
	}
}

func (c *Client) ChatCompletions(ctx context.Context, body []byte) ([]byte, int, error) {
	resp, err := c.post(ctx, "/chat/completions", body)
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
	var req map[string]any
	if err := json.Unmarshal(body, &req); err == nil {
		req["stream"] = true
		body, _ = json.Marshal(req)
	}
	resp, err := c.post(ctx, "/chat/completions", body)
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

// Embeddings makes one call to the OpenAI-style batch /embeddings endpoint
// for all inputs (spec §4.6); there is no fallback endpoint.
func (c *Client) Embeddings(ctx context.Context, inputs []string, model string) ([][]float64, error) {
	payload, err := json.Marshal(map[string]any{"input": inputs, "model": model})
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewUpstreamError("reading embeddings response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}
	vectors := streaming.ExtractEmbeddings(body)
	if len(vectors) != len(inputs) {
		return nil, apperrors.NewUpstreamError("embeddings count mismatch", nil)
	}
	return vectors, nil
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
