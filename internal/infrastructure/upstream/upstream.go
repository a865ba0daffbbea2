// Package upstream defines the shared contract both wire dialects (C6
// Upstream Clients) implement, and the http.Client tuning grounded on the
// teacher's internal/infrastructure/llm/openai/provider.go transport setup.
package upstream

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"
)

// NonStreamTimeout is the 600 s ceiling value for non-streamed upstream
// calls (spec §4.6). No caller applies it: non-stream calls run under the
// client request's context and the transport timeouts of NewHTTPClient.
const NonStreamTimeout = 600 * time.Second

// NewHTTPClient builds an http.Client tuned the way the teacher's OpenAI
// provider tunes its transport: bounded dial/TLS/idle timeouts and a 300 s
// response-header timeout, no overall client timeout (neither streams nor
// non-stream calls have a total time limit beyond the caller's context).
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// Client is the contract the Router/Admission layer drives, implemented
// once per dialect (openai, ndjson).
type Client interface {
	// ChatCompletions performs a non-streamed chat call, returning the raw
	// upstream JSON body verbatim (spec §4.6: "request body verbatim").
	ChatCompletions(ctx context.Context, body []byte) ([]byte, int, error)
	// ChatCompletionsStream performs a streamed chat call, returning the
	// raw response body reader for the Streaming Translator to consume.
	ChatCompletionsStream(ctx context.Context, body []byte) (io.ReadCloser, int, error)
	// Embeddings returns embedding vectors aligned to the inputs.
	Embeddings(ctx context.Context, inputs []string, model string) ([][]float64, error)
}

// WatchCancellation force-closes body when ctx is cancelled, mirroring the
// teacher's GenerateStream context-cancellation watchdog. Callers must
// invoke the returned stop func once streaming is done to release the
// watchdog goroutine.
func WatchCancellation(ctx context.Context, body io.Closer) (stop func()) {
	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-streamDone:
		}
	}()
	return func() { close(streamDone) }
}
