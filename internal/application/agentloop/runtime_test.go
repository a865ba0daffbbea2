package agentloop

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/domain/agentrun"
	"github.com/ngoclaw/ai-gateway/internal/domain/entity"
	"github.com/ngoclaw/ai-gateway/internal/domain/service"
)

type fakeLLM struct {
	calls int
	steps []service.LLMResponse
}

func (f *fakeLLM) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	f.calls++
	if f.calls-1 < len(f.steps) {
		resp := f.steps[f.calls-1]
		return &resp, nil
	}
	return &f.steps[len(f.steps)-1], nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	close(deltaCh)
	return f.Generate(ctx, req)
}

type fakeTools struct {
	invocations []string
}

func (f *fakeTools) Invoke(ctx context.Context, name string, args map[string]interface{}) (ToolInvocation, error) {
	f.invocations = append(f.invocations, name)
	return ToolInvocation{ReplayID: "tool_fixed", OK: true, Output: "hi"}, nil
}

func TestRun_PlanToolObserveThenTerminate(t *testing.T) {
	llm := &fakeLLM{steps: []service.LLMResponse{
		{Content: "PLAN: use noop"},
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "call_1", Name: "noop", Arguments: map[string]interface{}{"text": "hi"}}}},
		{Content: "PLAN: answer"},
		{Content: "FINAL: done"},
	}}
	tools := &fakeTools{}

	rt := New(llm, tools, Config{DefaultMaxTurns: 8}, nil, zap.NewNop())
	spec := agentrun.AgentSpec{Name: "default", Model: "test-upstream", MaxTurns: 8, ToolsAllowlist: []string{"noop"}}

	result, err := rt.Run(context.Background(), spec, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected ok=true, got reason=%s", result.Reason)
	}
	if result.OutputText != "FINAL: done" {
		t.Errorf("expected final output text, got %q", result.OutputText)
	}
	if len(tools.invocations) != 1 || tools.invocations[0] != "noop" {
		t.Errorf("expected exactly one noop invocation, got %v", tools.invocations)
	}

	types := make([]agentrun.EventType, 0, len(result.Events))
	for _, e := range result.Events {
		types = append(types, e.Type)
	}
	if types[0] != agentrun.EventStarted {
		t.Errorf("expected first event to be run_started, got %s", types[0])
	}
	if types[len(types)-1] != agentrun.EventCompleted {
		t.Errorf("expected last event to be run_completed, got %s", types[len(types)-1])
	}
	var sawTool bool
	for _, ty := range types {
		if ty == agentrun.EventTool {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("expected a tool event in the transcript")
	}
}

func TestRun_MaxTurnsExceeded(t *testing.T) {
	llm := &fakeLLM{steps: []service.LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "call_1", Name: "noop", Arguments: map[string]interface{}{}}}},
	}}
	tools := &fakeTools{}

	rt := New(llm, tools, Config{DefaultMaxTurns: 2}, nil, zap.NewNop())
	spec := agentrun.AgentSpec{Name: "loopy", Model: "test-upstream", MaxTurns: 2, ToolsAllowlist: []string{"noop"}}

	result, err := rt.Run(context.Background(), spec, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected ok=false when max_turns is exceeded")
	}
	if result.Reason != "max_turns" {
		t.Errorf("expected reason=max_turns, got %q", result.Reason)
	}
}

func TestRun_ToolDeniedWhenNotInAllowlist(t *testing.T) {
	llm := &fakeLLM{steps: []service.LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "call_1", Name: "shell", Arguments: map[string]interface{}{}}}},
	}}
	tools := &fakeTools{}

	rt := New(llm, tools, Config{DefaultMaxTurns: 4}, nil, zap.NewNop())
	spec := agentrun.AgentSpec{Name: "restricted", Model: "test-upstream", MaxTurns: 4, ToolsAllowlist: []string{"noop"}}

	result, err := rt.Run(context.Background(), spec, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected ok=false when the requested tool is denied")
	}
	if result.Reason != "tool_denied" {
		t.Errorf("expected reason=tool_denied, got %q", result.Reason)
	}
	if len(tools.invocations) != 0 {
		t.Errorf("denied tool must never be invoked, got %v", tools.invocations)
	}
}

func TestRun_ShedsHeavyTierWhenGateExhausted(t *testing.T) {
	llm := &fakeLLM{steps: []service.LLMResponse{{Content: "ok"}}}
	tools := &fakeTools{}
	gate := NewHeavyTierGate(1)
	release, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("expected to acquire the only heavy-tier slot")
	}
	defer release()

	rt := New(llm, tools, Config{DefaultMaxTurns: 1, ShedHeavy: true}, gate, zap.NewNop())
	spec := agentrun.AgentSpec{Name: "heavy", Model: "test-upstream", Tier: 2, MaxTurns: 1}

	_, err := rt.Run(context.Background(), spec, "hello")
	if err != ErrShedHeavy {
		t.Fatalf("expected ErrShedHeavy, got %v", err)
	}
}
