// Package streaming implements the Streaming Translator (C7): a lazy,
// cancellation-aware byte pipeline that normalizes both upstream dialects
// into the single client-facing SSE contract from spec §4.7. Grounded on
// the teacher's openai/sse.go bufio.Scanner + idle-timeout idiom, and on
// original_source/app/streaming.py for the exact OpenAI tail-window and
// NDJSON translation semantics.
package streaming

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/gjson"
)

const doneLine = "data: [DONE]\n\n"

// tailWindowSize is the sliding-window length watched for the literal
// "data: [DONE]" terminator in the OpenAI passthrough path (spec §4.7).
const tailWindowSize = 64

// Writer is the minimal sink the translator writes frames to: an
// http.ResponseWriter satisfies it via (io.Writer, http.Flusher).
type Writer interface {
	io.Writer
	Flush()
}

// PassthroughSSE streams OpenAI-style upstream SSE bytes directly to the
// client, watching a 64-byte sliding tail for "data: [DONE]". If the
// upstream stream ends without ever emitting it, one is appended so every
// client-observed stream ends with exactly one [DONE] (spec §8 invariant).
func PassthroughSSE(ctx context.Context, upstream io.Reader, w Writer) error {
	buf := make([]byte, 4096)
	tail := make([]byte, 0, tailWindowSize*2)
	sawDone := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := w.Write(chunk); werr != nil {
				return werr
			}
			w.Flush()

			tail = append(tail, chunk...)
			if len(tail) > tailWindowSize {
				tail = tail[len(tail)-tailWindowSize:]
			}
			if bytes.Contains(tail, []byte("data: [DONE]")) {
				sawDone = true
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}

	if !sawDone {
		if _, werr := w.Write([]byte(doneLine)); werr != nil {
			return werr
		}
		w.Flush()
	}
	return nil
}

// ndjsonLine is the wire shape of one line from the NDJSON dialect
// (original_source/app/streaming.py): message.content is the primary
// content source, response is the older one-shot generate-style fallback.
type ndjsonLine struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

// TranslateNDJSON reads the Ollama-style NDJSON dialect and emits the
// OpenAI chat.completion.chunk SSE frames spec §4.7 describes: a role
// frame on the first non-empty line, content delta frames per line, and a
// final frame with finish_reason on done=true, terminated by [DONE].
func TranslateNDJSON(ctx context.Context, upstream io.Reader, w Writer, model string) error {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	roleEmitted := false
	finishEmitted := false
	id := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var parsed ndjsonLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			continue
		}

		content := parsed.Message.Content
		if content == "" {
			content = parsed.Response
		}

		if !roleEmitted && (content != "" || parsed.Done) {
			if err := writeFrame(w, chunkFrame{ID: id, Model: model, Role: "assistant"}); err != nil {
				return err
			}
			roleEmitted = true
		}

		if content != "" {
			if err := writeFrame(w, chunkFrame{ID: id, Model: model, Content: content}); err != nil {
				return err
			}
		}

		if parsed.Done {
			reason := parsed.DoneReason
			if reason == "" {
				reason = "stop"
			}
			if err := writeFrame(w, chunkFrame{ID: id, Model: model, FinishReason: reason}); err != nil {
				return err
			}
			finishEmitted = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if !finishEmitted {
		if err := writeFrame(w, chunkFrame{ID: id, Model: model, FinishReason: "stop"}); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte(doneLine)); err != nil {
		return err
	}
	w.Flush()
	return nil
}

type chunkFrame struct {
	ID           string
	Model        string
	Role         string
	Content      string
	FinishReason string
}

func writeFrame(w Writer, f chunkFrame) error {
	delta := map[string]any{}
	if f.Role != "" {
		delta["role"] = f.Role
	}
	if f.Content != "" {
		delta["content"] = f.Content
	}

	choice := map[string]any{
		"index": 0,
		"delta": delta,
	}
	if f.FinishReason != "" {
		choice["finish_reason"] = f.FinishReason
	} else {
		choice["finish_reason"] = nil
	}

	payload := map[string]any{
		"id":      f.ID,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   f.Model,
		"choices": []any{choice},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// ExtractEmbeddings pulls embedding vectors out of a raw JSON response
// body using gjson, supporting both the OpenAI `data[].embedding` shape
// and the NDJSON `embedding`/`embeddings` shapes without a full unmarshal
// into a fixed struct (spec §4.6 dual-dialect embeddings).
func ExtractEmbeddings(body []byte) [][]float64 {
	if arr := gjson.GetBytes(body, "data.#.embedding"); arr.Exists() {
		return toFloatMatrix(arr)
	}
	if arr := gjson.GetBytes(body, "embeddings"); arr.Exists() {
		return toFloatMatrix(arr)
	}
	if single := gjson.GetBytes(body, "embedding"); single.Exists() {
		return [][]float64{toFloatVector(single)}
	}
	return nil
}

func toFloatMatrix(r gjson.Result) [][]float64 {
	var out [][]float64
	for _, row := range r.Array() {
		out = append(out, toFloatVector(row))
	}
	return out
}

func toFloatVector(r gjson.Result) []float64 {
	var out []float64
	for _, v := range r.Array() {
		out = append(out, v.Float())
	}
	return out
}
