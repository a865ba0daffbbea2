// Package agentrun holds the data types for the Agent Runtime (C9): a
// named agent's declaration (AgentSpec) and the event transcript one
// run produces (spec §2, §4.9).
package agentrun

import "time"

// AgentSpec declares one named agent: its model, admission tier, turn
// budget, and the subset of the global tool allowlist it may invoke
// (spec §2: "AgentSpec — {name, model, tier ∈ {0,1,2}, max_turns,
// tools_allowlist[]}").
type AgentSpec struct {
	Name           string   `json:"name" yaml:"name"`
	Model          string   `json:"model" yaml:"model"`
	Tier           int      `json:"tier" yaml:"tier"`
	MaxTurns       int      `json:"max_turns" yaml:"max_turns"`
	ToolsAllowlist []string `json:"tools_allowlist" yaml:"tools_allowlist"`
	SystemPrompt   string   `json:"system_prompt" yaml:"system_prompt"`
}

// EventType enumerates the event kinds emitted to an agent run's
// transcript (spec §4.9 pseudocode: run_started/plan/action/tool/
// observation/run_completed).
type EventType string

const (
	EventStarted     EventType = "run_started"
	EventPlan        EventType = "plan"
	EventAction      EventType = "action"
	EventTool        EventType = "tool"
	EventObservation EventType = "observation"
	EventCompleted   EventType = "run_completed"
)

// Event is one entry in a run's persisted transcript.
type Event struct {
	Type       EventType              `json:"type"`
	Turn       int                    `json:"turn,omitempty"`
	Content    string                 `json:"content,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolArgs   map[string]interface{} `json:"tool_args,omitempty"`
	ReplayID   string                 `json:"replay_id,omitempty"`
	Error      string                 `json:"error,omitempty"`
	OK         *bool                  `json:"ok,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	OutputText string                 `json:"output_text,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Result is the final outcome of one agent run (spec §4.9: the body of
// the persisted run, also the POST /v1/agent/run response).
type Result struct {
	RunID      string  `json:"run_id"`
	OK         bool    `json:"ok"`
	OutputText string  `json:"output_text"`
	Reason     string  `json:"reason,omitempty"`
	Turns      int     `json:"turns"`
	Events     []Event `json:"events"`
}

// BoolPtr is a small helper since Event.OK is a pointer (absent vs.
// false are distinct: absent means "not yet terminal").
func BoolPtr(b bool) *bool { return &b }
