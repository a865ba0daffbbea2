package toolbus

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	domaintool "github.com/ngoclaw/ai-gateway/internal/domain/tool"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/sandbox"
)

// shellTool runs argv parsed by the caller (no shell interpolation); argv[0]
// must be in the configured allowlist. Grounded on
// original_source/app/tools_bus.py:tool_shell, adapted from a fixed
// shlex.split(cmd) string to an explicit argv array since the gateway's
// wire contract passes structured arguments, not a shell string.
type shellTool struct {
	cfg     Config
	sandbox *sandbox.ProcessSandbox
}

func newShellTool(cfg Config, sbx *sandbox.ProcessSandbox) *shellTool { return &shellTool{cfg, sbx} }

func (t *shellTool) Name() string        { return "shell" }
func (t *shellTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *shellTool) Description() string {
	return "Run a command locally (argv, no shell interpolation)."
}
func (t *shellTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"argv": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required":             []string{"argv"},
		"additionalProperties": false,
	}
}

func (t *shellTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	argv, err := stringSlice(args["argv"])
	if err != nil || len(argv) == 0 {
		return &domaintool.Result{Error: "argv must be a non-empty array of strings"}, nil
	}
	if len(t.cfg.ShellAllowedCmds) == 0 {
		return &domaintool.Result{Error: "shell tool not configured (no allowed commands)"}, nil
	}
	allowed := false
	for _, c := range t.cfg.ShellAllowedCmds {
		if c == argv[0] {
			allowed = true
			break
		}
	}
	if !allowed {
		return &domaintool.Result{Error: fmt.Sprintf("command not allowed: %s", argv[0])}, nil
	}

	cwd := t.cfg.ShellCWD
	if cwd != "" {
		os.MkdirAll(cwd, 0o755)
	}
	res, err := t.sandbox.Run(ctx, argv, nil, cwd, t.cfg.ShellTimeout, nil)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{
		Success: res.ExitCode == 0,
		Output:  truncate(res.Stdout, t.cfg.MaxOutputChars),
		Metadata: map[string]interface{}{
			"exit_code": res.ExitCode,
			"stderr":    truncate(res.Stderr, t.cfg.MaxOutputChars),
		},
	}, nil
}

// gitTool runs a fixed, read-only subset of git subcommands directly via
// argv (no "cd X && git ..." shell string), grounded on
// original_source/app/tools_bus.py:tool_git.
type gitTool struct {
	cfg     Config
	sandbox *sandbox.ProcessSandbox
}

func newGitTool(cfg Config, sbx *sandbox.ProcessSandbox) *gitTool { return &gitTool{cfg, sbx} }

var gitAllowedSubcommands = map[string]bool{
	"status": true, "diff": true, "log": true, "show": true,
	"rev-parse": true, "ls-files": true,
}

func (t *gitTool) Name() string          { return "git" }
func (t *gitTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *gitTool) Description() string {
	return "Run a limited set of read-only git subcommands (status, diff, log, show, rev-parse, ls-files)."
}
func (t *gitTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"args": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required":             []string{"args"},
		"additionalProperties": false,
	}
}

func (t *gitTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	argv, err := stringSlice(args["args"])
	if err != nil || len(argv) == 0 {
		return &domaintool.Result{Error: "args must be a non-empty array of strings"}, nil
	}
	if !gitAllowedSubcommands[argv[0]] {
		return &domaintool.Result{Error: fmt.Sprintf("git subcommand not allowed: %s", argv[0])}, nil
	}
	cwd := t.cfg.GitCWD
	if cwd != "" {
		os.MkdirAll(cwd, 0o755)
	}
	full := append([]string{"git"}, argv...)
	res, err := t.sandbox.Run(ctx, full, nil, cwd, t.cfg.GitTimeout, nil)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{
		Success: res.ExitCode == 0,
		Output:  truncate(res.Stdout, t.cfg.MaxOutputChars),
		Metadata: map[string]interface{}{
			"exit_code": res.ExitCode,
			"stderr":    truncate(res.Stderr, t.cfg.MaxOutputChars),
		},
	}, nil
}

// readFileTool and writeFileTool enforce the configured-roots containment
// check from original_source/app/tools_bus.py:tool_read_file /
// tool_write_file.
type readFileTool struct{ cfg Config }

func newReadFileTool(cfg Config) *readFileTool { return &readFileTool{cfg} }

func (t *readFileTool) Name() string          { return "read_file" }
func (t *readFileTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *readFileTool) Description() string  { return "Read a local text file." }
func (t *readFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return &domaintool.Result{Error: "path must be a non-empty string"}, nil
	}
	resolved, err := resolveUnderRoots(path, t.cfg.FSRoots)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	f, err := os.Open(resolved)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, t.cfg.FSMaxBytes+1))
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	truncated := int64(len(data)) > t.cfg.FSMaxBytes
	if truncated {
		data = data[:t.cfg.FSMaxBytes]
	}
	return &domaintool.Result{
		Success: true,
		Output:  string(data),
		Metadata: map[string]interface{}{
			"path":      resolved,
			"truncated": truncated,
		},
	}, nil
}

type writeFileTool struct{ cfg Config }

func newWriteFileTool(cfg Config) *writeFileTool { return &writeFileTool{cfg} }

func (t *writeFileTool) Name() string          { return "write_file" }
func (t *writeFileTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *writeFileTool) Description() string  { return "Write a local text file." }
func (t *writeFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	content, ok := args["content"].(string)
	if path == "" || !ok {
		return &domaintool.Result{Error: "path and content are required"}, nil
	}
	if int64(len(content)) > t.cfg.FSMaxBytes {
		return &domaintool.Result{Error: fmt.Sprintf("content too large (>%d bytes)", t.cfg.FSMaxBytes)}, nil
	}
	resolved, err := resolveUnderRoots(path, t.cfg.FSRoots)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	return &domaintool.Result{Success: true, Output: "ok", Metadata: map[string]interface{}{"path": resolved}}, nil
}

func resolveUnderRoots(path string, roots []string) (string, error) {
	if len(roots) == 0 {
		return "", fmt.Errorf("fs tool not configured (no roots)")
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(roots[0], p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	for _, r := range roots {
		rootAbs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path outside allowed roots")
}

// httpFetchTool is a GET-only, host-allowlisted, size-bounded fetch,
// grounded on original_source/app/tools_bus.py:tool_http_fetch.
type httpFetchTool struct {
	cfg    Config
	client *http.Client
}

func newHTTPFetchTool(cfg Config) *httpFetchTool {
	return &httpFetchTool{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

func (t *httpFetchTool) Name() string          { return "http_fetch" }
func (t *httpFetchTool) Kind() domaintool.Kind { return domaintool.KindFetch }
func (t *httpFetchTool) Description() string {
	return "Fetch a URL via GET with host allowlist and size limits."
}
func (t *httpFetchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":    map[string]interface{}{"type": "string"},
			"method": map[string]interface{}{"type": "string", "enum": []string{"GET"}},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

func (t *httpFetchTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return &domaintool.Result{Error: "url must be a non-empty string"}, nil
	}
	if method, ok := args["method"].(string); ok && method != "" && strings.ToUpper(method) != "GET" {
		return &domaintool.Result{Error: "only GET is supported"}, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &domaintool.Result{Error: "only http/https URLs are allowed"}, nil
	}
	host := strings.ToLower(parsed.Hostname())
	allowed := false
	for _, h := range t.cfg.HTTPAllowedHosts {
		if strings.ToLower(h) == host {
			allowed = true
			break
		}
	}
	if !allowed {
		return &domaintool.Result{Error: fmt.Sprintf("host not allowed: %s", host)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.HTTPMaxBytes+1))
	if err != nil {
		return &domaintool.Result{Error: err.Error()}, nil
	}
	truncated := int64(len(body)) > t.cfg.HTTPMaxBytes
	if truncated {
		body = body[:t.cfg.HTTPMaxBytes]
	}

	result := map[string]interface{}{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"truncated":    truncated,
	}
	if isValidUTF8(body) {
		result["body_text"] = string(body)
	} else {
		result["body_base64"] = base64.StdEncoding.EncodeToString(body)
	}
	return &domaintool.Result{Success: true, Output: fmt.Sprintf("%d bytes", len(body)), Metadata: result}, nil
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}

func stringSlice(v interface{}) ([]string, error) {
	arr, ok := v.([]interface{})
	if !ok {
		if strs, ok := v.([]string); ok {
			return strs, nil
		}
		return nil, fmt.Errorf("not an array")
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("array item not a string")
		}
		out = append(out, s)
	}
	return out, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
