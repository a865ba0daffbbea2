package streaming

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type bufWriter struct {
	bytes.Buffer
	flushes int
}

func (b *bufWriter) Flush() { b.flushes++ }

func TestPassthroughSSE_AppendsDoneIfMissing(t *testing.T) {
	upstream := strings.NewReader("data: {\"choices\":[]}\n\n")
	w := &bufWriter{}

	if err := PassthroughSSE(context.Background(), upstream, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(w.String(), doneLine) {
		t.Errorf("expected stream to end with %q, got %q", doneLine, w.String())
	}
	if strings.Count(w.String(), "[DONE]") != 1 {
		t.Errorf("expected exactly one [DONE], got: %q", w.String())
	}
}

func TestPassthroughSSE_PreservesExistingDone(t *testing.T) {
	upstream := strings.NewReader("data: {\"a\":1}\n\n" + doneLine)
	w := &bufWriter{}

	if err := PassthroughSSE(context.Background(), upstream, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(w.String(), "[DONE]") != 1 {
		t.Errorf("expected exactly one [DONE], got: %q", w.String())
	}
}

func TestTranslateNDJSON_EmitsRoleThenContentThenFinish(t *testing.T) {
	upstream := strings.NewReader(
		`{"message":{"role":"assistant","content":"Hel"},"done":false}` + "\n" +
			`{"message":{"role":"assistant","content":"lo"},"done":false}` + "\n" +
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}` + "\n",
	)
	w := &bufWriter{}

	if err := TranslateNDJSON(context.Background(), upstream, w, "local-model"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := w.String()
	if !strings.Contains(out, `"role":"assistant"`) {
		t.Errorf("missing role frame: %q", out)
	}
	if !strings.Contains(out, `"content":"Hel"`) || !strings.Contains(out, `"content":"lo"`) {
		t.Errorf("missing content deltas: %q", out)
	}
	if !strings.Contains(out, `"finish_reason":"stop"`) {
		t.Errorf("missing finish frame: %q", out)
	}
	if !strings.HasSuffix(out, doneLine) {
		t.Errorf("expected terminator, got: %q", out)
	}
}

func TestTranslateNDJSON_FallsBackToResponseField(t *testing.T) {
	upstream := strings.NewReader(`{"response":"hi","done":true}` + "\n")
	w := &bufWriter{}

	if err := TranslateNDJSON(context.Background(), upstream, w, "m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(w.String(), `"content":"hi"`) {
		t.Errorf("expected response field fallback, got: %q", w.String())
	}
}

func TestExtractEmbeddings_OpenAIShape(t *testing.T) {
	body := []byte(`{"data":[{"embedding":[0.1,0.2]},{"embedding":[0.3,0.4]}]}`)
	got := ExtractEmbeddings(body)
	if len(got) != 2 || len(got[0]) != 2 {
		t.Errorf("got %+v", got)
	}
}
