// Package toolbus implements the Tool Bus (C8): a declared-tool registry
// with JSON-Schema argument validation, an effective allowlist gate, and
// an invocation pipeline that hashes, executes, logs, and replay-tags
// every call (spec §4.8). Grounded on
// original_source/app/tools_bus.py:_execute_tool for the pipeline shape,
// and on the teacher's internal/domain/tool package for the Go-side
// Tool/Registry/Result abstractions it reuses.
package toolbus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"
	"go.uber.org/zap"

	domaintool "github.com/ngoclaw/ai-gateway/internal/domain/tool"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/sandbox"
	apperrors "github.com/ngoclaw/ai-gateway/pkg/errors"
)

// Bus is the C8 Tool Bus: it owns the tool registry, the effective
// allowlist, and the invocation pipeline (validate, hash, execute, log,
// replay).
type Bus struct {
	cfg       Config
	registry  domaintool.Registry
	allowlist map[string]bool
	schemas   map[string]*jsonschema.Schema
	logger    *zap.Logger

	logMu   sync.Mutex
	replays sync.Map // replay_id -> *InvocationRecord
}

// InvocationRecord is the persisted shape of one tool call, returned by
// the replay endpoint and appended to the NDJSON log (spec §4.8 step 5).
type InvocationRecord struct {
	ReplayID    string                 `json:"replay_id"`
	RequestHash string                 `json:"request_hash"`
	Tool        string                 `json:"tool"`
	Version     string                 `json:"version,omitempty"`
	OK          bool                   `json:"ok"`
	Args        map[string]interface{} `json:"args"`
	Result      *domaintool.Result     `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  float64                `json:"duration_ms"`
	Timestamp   int64                  `json:"ts"`
}

// New builds a Bus with the built-in tools enabled per cfg wired in, plus
// any extra declared tools (already-constructed native handlers) from the
// caller's JSON tool registry.
func New(cfg Config, extra []domaintool.Tool, logger *zap.Logger) *Bus {
	sbx := sandbox.NewProcessSandbox()
	reg := domaintool.NewInMemoryRegistry()

	builtins := []domaintool.Tool{
		newShellTool(cfg, sbx),
		newReadFileTool(cfg),
		newWriteFileTool(cfg),
		newHTTPFetchTool(cfg),
		newGitTool(cfg, sbx),
	}
	for _, t := range builtins {
		reg.Register(t)
	}
	for _, t := range extra {
		if err := reg.Register(t); err != nil {
			logger.Warn("tool registration failed", zap.String("tool", t.Name()), zap.Error(err))
		}
	}

	b := &Bus{
		cfg:       cfg,
		registry:  reg,
		allowlist: cfg.effectiveAllowlist(),
		schemas:   make(map[string]*jsonschema.Schema),
		logger:    logger.With(zap.String("component", "toolbus")),
	}
	compiler := jsonschema.NewCompiler()
	for _, def := range reg.List() {
		raw, _ := json.Marshal(def.Parameters)
		schema, err := compiler.Compile(raw)
		if err != nil {
			logger.Warn("tool schema did not compile", zap.String("tool", def.Name), zap.Error(err))
			continue
		}
		b.schemas[def.Name] = schema
	}
	return b
}

// Registry exposes the underlying domaintool.Registry; App.ToolExecutor
// wraps it. Calls made through it skip Invoke's allowlist gate, schema
// validation and logging (the agent runtime goes through Invoke).
func (b *Bus) Registry() domaintool.Registry { return b.registry }

// List returns declarations for every tool currently in the effective
// allowlist (spec §4.8: GET /v1/tools).
func (b *Bus) List() []domaintool.Definition {
	out := make([]domaintool.Definition, 0)
	for _, def := range b.registry.List() {
		if b.allowlist[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// Invoke runs the full pipeline: resolve, allowlist gate, schema
// validate, hash + replay-tag, execute, log, return (spec §4.8).
func (b *Bus) Invoke(ctx context.Context, name string, args map[string]interface{}) (*InvocationRecord, error) {
	t, found := b.registry.Get(name)
	if !found {
		return nil, apperrors.NewNotFound(fmt.Sprintf("unknown tool: %s", name))
	}
	if !b.allowlist[name] {
		return nil, apperrors.NewForbidden(fmt.Sprintf("tool not in effective allowlist: %s", name))
	}

	if schema, ok := b.schemas[name]; ok {
		result := schema.Validate(args)
		if !result.IsValid() {
			issues := make([]string, 0, len(result.Errors))
			for field, err := range result.Errors {
				issues = append(issues, fmt.Sprintf("%s: %v", field, err))
			}
			return nil, apperrors.NewInvalidInput(fmt.Sprintf("invalid arguments for %s: %v", name, issues))
		}
	}

	requestHash := hashRequest(name, "", args)
	replayID := "tool_" + uuid.NewString()

	start := time.Now()
	result, execErr := t.Execute(ctx, args)
	duration := time.Since(start)

	rec := &InvocationRecord{
		ReplayID:    replayID,
		RequestHash: requestHash,
		Tool:        name,
		Args:        args,
		Result:      result,
		DurationMs:  float64(duration.Microseconds()) / 1000.0,
		Timestamp:   time.Now().Unix(),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	} else if result != nil {
		rec.OK = result.Success
		if result.Error != "" {
			rec.Error = result.Error
		}
	}

	b.persist(rec)

	if execErr != nil {
		return rec, execErr
	}
	return rec, nil
}

// Replay returns the record for replayID from the in-process map every
// invocation is stored in, whatever the log settings (spec §4.8: GET
// /v1/tools/replay/{replay_id}). Records are not read back from the log
// or replay files, so invocations from before a restart are not found.
func (b *Bus) Replay(replayID string) (*InvocationRecord, bool) {
	v, ok := b.replays.Load(replayID)
	if !ok {
		return nil, false
	}
	return v.(*InvocationRecord), true
}

func (b *Bus) persist(rec *InvocationRecord) {
	b.replays.Store(rec.ReplayID, rec)

	if b.cfg.LogPath != "" {
		b.logMu.Lock()
		if err := appendJSONLine(b.cfg.LogPath, rec); err != nil {
			b.logger.Warn("tool log append failed", zap.Error(err))
		}
		b.logMu.Unlock()
	}
	if b.cfg.ReplayDir != "" {
		path := filepath.Join(b.cfg.ReplayDir, rec.ReplayID+".json")
		if data, err := json.Marshal(rec); err == nil {
			os.MkdirAll(b.cfg.ReplayDir, 0o755)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				b.logger.Warn("tool replay file write failed", zap.Error(err))
			}
		}
	}
}

func appendJSONLine(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// hashRequest computes SHA-256 over the canonical JSON of {name, version,
// args} (spec §4.8 step 3). Canonical here means deterministic key
// ordering, achieved via a map with sorted marshal semantics from
// encoding/json (Go's json.Marshal already sorts map keys).
func hashRequest(name, version string, args map[string]interface{}) string {
	canon := map[string]interface{}{"name": name, "version": version, "args": args}
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
