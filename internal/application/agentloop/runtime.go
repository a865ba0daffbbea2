// Package agentloop implements the Agent Runtime (C9) orchestration: a
// bounded plan/act/observe loop over the tool bus and a chat back-end,
// with per-run event transcripts and tier-based admission shedding
// (spec §4.9). The data shapes it produces live in domain/agentrun; the
// chat abstraction it calls through lives in domain/service.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/domain/agentrun"
	domaintool "github.com/ngoclaw/ai-gateway/internal/domain/tool"
	"github.com/ngoclaw/ai-gateway/internal/domain/service"
)

// ToolInvoker is the subset of the Tool Bus the agent runtime depends
// on, so the runtime can be tested without the full toolbus.Bus.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) (ToolInvocation, error)
}

// ToolInvocation is the shape of a tool bus invocation result the
// runtime needs: the replay tag and the outcome for observation.
type ToolInvocation struct {
	ReplayID string
	OK       bool
	Output   string
	Error    string
}

// HeavyTierGate bounds concurrent tier>=1 runs when shed_heavy is on
// (spec §4.9: "check global heavy-tier semaphore; if exhausted, fail
// with 429 before the first upstream call").
type HeavyTierGate struct {
	slots chan struct{}
}

// NewHeavyTierGate builds a gate with n concurrent heavy-tier slots.
// n<=0 means unlimited (the gate never sheds).
func NewHeavyTierGate(n int) *HeavyTierGate {
	if n <= 0 {
		return &HeavyTierGate{}
	}
	return &HeavyTierGate{slots: make(chan struct{}, n)}
}

// TryAcquire returns a release func and true on success, or false if
// the gate is exhausted.
func (g *HeavyTierGate) TryAcquire() (func(), bool) {
	if g.slots == nil {
		return func() {}, true
	}
	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, true
	default:
		return nil, false
	}
}

// ErrShedHeavy is returned by Run when the heavy-tier gate is
// exhausted, before any upstream call is made.
var ErrShedHeavy = fmt.Errorf("shed_heavy")

// Config holds the settings shared by every run (spec §6 agent.*
// surface: shed_heavy, default max_turns, global tool allowlist).
type Config struct {
	ShedHeavy       bool
	DefaultMaxTurns int
	GlobalAllowlist map[string]bool // nil means "allow anything the tool bus allows"
	Temperature     float64
}

// Runtime executes AgentSpecs through the bounded plan/act/observe
// loop (spec §4.9).
type Runtime struct {
	llm    service.LLMClient
	tools  ToolInvoker
	cfg    Config
	gate   *HeavyTierGate
	logger *zap.Logger
}

// New builds a Runtime. gate may be nil, in which case tier shedding
// never triggers.
func New(llm service.LLMClient, tools ToolInvoker, cfg Config, gate *HeavyTierGate, logger *zap.Logger) *Runtime {
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = 8
	}
	if gate == nil {
		gate = NewHeavyTierGate(0)
	}
	return &Runtime{llm: llm, tools: tools, cfg: cfg, gate: gate, logger: logger.With(zap.String("component", "agent-runtime"))}
}

// Run executes one bounded plan/act/observe loop for spec against
// input, building an event transcript as it goes. The returned run_id
// is stable across emitted events and the final result.
func (r *Runtime) Run(ctx context.Context, spec agentrun.AgentSpec, input string) (*agentrun.Result, error) {
	maxTurns := spec.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.cfg.DefaultMaxTurns
	}

	if r.cfg.ShedHeavy && spec.Tier >= 1 {
		release, ok := r.gate.TryAcquire()
		if !ok {
			return nil, ErrShedHeavy
		}
		defer release()
	}

	runID := "run-" + uuid.NewString()
	allowed := r.effectiveAllowlist(spec.ToolsAllowlist)

	state := &runState{runID: runID}
	state.emit(agentrun.Event{Type: agentrun.EventStarted, Content: input})

	systemPrompt := spec.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are an autonomous agent. Use tools when needed, otherwise answer directly."
	}
	messages := []service.LLMMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: input},
	}

	toolDefs := r.toolDefinitions(allowed)

	for turn := 0; turn < maxTurns; turn++ {
		planResp, err := r.chat(ctx, spec, messages, nil)
		if err != nil {
			return r.fail(state, turn, fmt.Sprintf("plan call failed: %v", err)), err
		}
		state.emit(agentrun.Event{Type: agentrun.EventPlan, Turn: turn, Content: planResp.Content})

		actionResp, err := r.chat(ctx, spec, messages, toolDefs)
		if err != nil {
			return r.fail(state, turn, fmt.Sprintf("action call failed: %v", err)), err
		}
		state.emit(agentrun.Event{Type: agentrun.EventAction, Turn: turn, Content: actionResp.Content})

		if len(actionResp.ToolCalls) == 0 {
			state.emit(agentrun.Event{Type: agentrun.EventCompleted, Turn: turn, OK: agentrun.BoolPtr(true), OutputText: actionResp.Content})
			return &agentrun.Result{RunID: runID, OK: true, OutputText: actionResp.Content, Turns: turn + 1, Events: state.events}, nil
		}

		messages = append(messages, service.LLMMessage{Role: "assistant", Content: actionResp.Content, ToolCalls: actionResp.ToolCalls})

		denied := false
		for _, call := range actionResp.ToolCalls {
			if !allowed[call.Name] {
				state.emit(agentrun.Event{Type: agentrun.EventObservation, Turn: turn, ToolName: call.Name, Error: "tool_denied"})
				denied = true
				break
			}

			inv, err := r.tools.Invoke(ctx, call.Name, call.Arguments)
			toolEvent := agentrun.Event{Type: agentrun.EventTool, Turn: turn, ToolName: call.Name, ToolArgs: call.Arguments}
			var observation string
			if err != nil {
				toolEvent.Error = err.Error()
				observation = fmt.Sprintf("error: %v", err)
			} else {
				toolEvent.ReplayID = inv.ReplayID
				toolEvent.OK = agentrun.BoolPtr(inv.OK)
				if !inv.OK {
					toolEvent.Error = inv.Error
					observation = fmt.Sprintf("error: %s", inv.Error)
				} else {
					observation = inv.Output
				}
			}
			state.emit(toolEvent)

			messages = append(messages, service.LLMMessage{
				Role:       "tool",
				Content:    observation,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
			state.emit(agentrun.Event{Type: agentrun.EventObservation, Turn: turn, ToolName: call.Name, ReplayID: toolEvent.ReplayID, Content: observation})
		}
		if denied {
			state.emit(agentrun.Event{Type: agentrun.EventCompleted, Turn: turn, OK: agentrun.BoolPtr(false), Reason: "tool_denied"})
			return &agentrun.Result{RunID: runID, OK: false, Reason: "tool_denied", Turns: turn + 1, Events: state.events}, nil
		}
	}

	state.emit(agentrun.Event{Type: agentrun.EventCompleted, OK: agentrun.BoolPtr(false), Reason: "max_turns"})
	return &agentrun.Result{RunID: runID, OK: false, Reason: "max_turns", Turns: maxTurns, Events: state.events}, nil
}

func (r *Runtime) fail(state *runState, turn int, reason string) *agentrun.Result {
	state.emit(agentrun.Event{Type: agentrun.EventCompleted, Turn: turn, OK: agentrun.BoolPtr(false), Reason: reason})
	return &agentrun.Result{RunID: state.runID, OK: false, Reason: reason, Turns: turn + 1, Events: state.events}
}

// chat performs one non-streaming upstream call with retry, grounded on
// the teacher's callLLMWithRetry but trimmed to a single blocking call
// (the bounded loop has no use for partial-text streaming).
func (r *Runtime) chat(ctx context.Context, spec agentrun.AgentSpec, messages []service.LLMMessage, tools []domaintool.Definition) (*service.LLMResponse, error) {
	req := &service.LLMRequest{
		Messages:    messages,
		Tools:       tools,
		Model:       spec.Model,
		Temperature: r.cfg.Temperature,
	}

	const maxRetries = 2
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := r.llm.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !service.IsRetryableError(err) {
			return nil, err
		}
		r.logger.Warn("agent runtime chat call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, fmt.Errorf("chat call failed after %d retries: %w", maxRetries, lastErr)
}

// effectiveAllowlist intersects the agent's own allowlist with the
// global allowlist (spec §4.9: "name not in (agent.allowlist ∩
// global.allowlist)").
func (r *Runtime) effectiveAllowlist(agentAllowlist []string) map[string]bool {
	out := make(map[string]bool, len(agentAllowlist))
	for _, name := range agentAllowlist {
		if r.cfg.GlobalAllowlist == nil || r.cfg.GlobalAllowlist[name] {
			out[name] = true
		}
	}
	return out
}

func (r *Runtime) toolDefinitions(allowed map[string]bool) []domaintool.Definition {
	defs := make([]domaintool.Definition, 0, len(allowed))
	for name := range allowed {
		defs = append(defs, domaintool.Definition{Name: name})
	}
	return defs
}

// runState accumulates a run's transcript in order, stamping each
// event with its wall-clock time (callers set the event's turn).
type runState struct {
	runID  string
	events []agentrun.Event
}

func (s *runState) emit(e agentrun.Event) {
	e.Timestamp = time.Now()
	s.events = append(s.events, e)
}

// LoadAgentSpecs reads a JSON document mapping agent name to AgentSpec.
// Grounded on original_source's load_agent_specs, which keys a dict of
// named specs from a single config file rather than one file per agent.
func LoadAgentSpecs(data []byte) (map[string]agentrun.AgentSpec, error) {
	var raw map[string]agentrun.AgentSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse agent specs: %w", err)
	}
	for name, spec := range raw {
		spec.Name = name
		raw[name] = spec
	}
	return raw, nil
}
