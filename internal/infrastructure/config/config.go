// Package config loads the gateway's layered configuration the way the
// teacher loads its own: defaults, then a global file, then a local
// project file merged on top, then environment variables, all via
// spf13/viper. Grounded on the teacher's internal/infrastructure/config
// but rebuilt around the gateway's own surface (spec §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Router  RouterConfig  `mapstructure:"router"`
	Backends []BackendConfig `mapstructure:"backends"`
	Aliases []AliasConfig `mapstructure:"aliases"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Agent   AgentConfig   `mapstructure:"agent"`
	UI      UIConfig      `mapstructure:"ui"`
	Log     LogConfig     `mapstructure:"log"`
}

type GatewayConfig struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	BearerTokens    []string `mapstructure:"bearer_tokens"`
	IPAllowlist     []string `mapstructure:"ip_allowlist"`
	MaxRequestBytes int64    `mapstructure:"max_request_bytes"`
	// JWTSecret, when set, lets callers authenticate with an HS256 JWT
	// instead of a static bearer token (checked after the static list,
	// never instead of it). Empty disables JWT auth entirely.
	JWTSecret string `mapstructure:"jwt_secret"`
	// CORSAllowOrigins lists allowed Origin values for browser-based UI
	// callers. Empty means same-origin only (no CORS headers added).
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	// RequestLogPath is the NDJSON request log (spec §4.11), distinct
	// from agent.runs_log_path which logs agent runs, not HTTP requests.
	RequestLogPath string `mapstructure:"request_log_path"`
}

type BackendConfig struct {
	ID                string         `mapstructure:"id"`
	BaseURL           string         `mapstructure:"base_url"`
	Dialect           string         `mapstructure:"dialect"` // openai | ndjson
	Description       string         `mapstructure:"description"`
	Capabilities      []string       `mapstructure:"capabilities"`
	ConcurrencyLimits map[string]int `mapstructure:"concurrency_limits"`
	LivenessPath      string         `mapstructure:"liveness"`
	ReadinessPath     string         `mapstructure:"readiness"`
	PayloadPolicy     string         `mapstructure:"payload_policy"`
	StrongModel       string         `mapstructure:"strong_model"`
	FastModel         string         `mapstructure:"fast_model"`
	LegacyAliases     []string       `mapstructure:"legacy_aliases"`
	// APIKey authenticates the gateway to this backend when it's a
	// hosted provider (e.g. OpenAI). Local backends (Ollama, vLLM)
	// typically leave this empty. Supports ${VAR} expansion like BaseURL.
	APIKey string `mapstructure:"api_key"`
}

type AliasConfig struct {
	Name          string  `mapstructure:"name"`
	Backend       string  `mapstructure:"backend"`
	UpstreamModel string  `mapstructure:"upstream_model"`
	ContextWindow int     `mapstructure:"context_window"`
	ToolsAllowed  *bool   `mapstructure:"tools_allowed"`
	MaxTokensCap  int     `mapstructure:"max_tokens_cap"`
	TemperatureCap *float64 `mapstructure:"temperature_cap"`
}

type RouterConfig struct {
	DefaultBackend        string `mapstructure:"default_backend"`
	LongContextCharsThresh int   `mapstructure:"long_context_threshold"`
	EnablePolicy          bool   `mapstructure:"enable_policy"`
	EnableRequestType     bool   `mapstructure:"enable_request_type"`
	ForwardThinking       bool   `mapstructure:"forward_thinking"`
}

type ToolsConfig struct {
	Allowlist        []string      `mapstructure:"allowlist"`
	AllowShell       bool          `mapstructure:"allow_shell"`
	ShellAllowedCmds []string      `mapstructure:"shell_allowed_cmds"`
	ShellCWD         string        `mapstructure:"shell_cwd"`
	ShellTimeout     time.Duration `mapstructure:"shell_timeout"`
	AllowFS          bool          `mapstructure:"allow_fs"`
	AllowFSWrite     bool          `mapstructure:"allow_fs_write"`
	FSRoots          []string      `mapstructure:"fs_roots"`
	FSMaxBytes       int64         `mapstructure:"fs_max_bytes"`
	AllowHTTPFetch   bool          `mapstructure:"allow_http_fetch"`
	HTTPAllowedHosts []string      `mapstructure:"http_allowed_hosts"`
	HTTPMaxBytes     int64         `mapstructure:"http_max_bytes"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	AllowGit         bool          `mapstructure:"allow_git"`
	GitCWD           string        `mapstructure:"git_cwd"`
	GitTimeout       time.Duration `mapstructure:"git_timeout"`
	RegistryPath     string        `mapstructure:"registry_path"`
	RegistrySHA256   string        `mapstructure:"registry_sha256"`
	LogMode          string        `mapstructure:"log_mode"` // ndjson | per_invocation | both
	LogPath          string        `mapstructure:"log_path"`
	LogDir           string        `mapstructure:"log_dir"`
	MaxOutputChars   int           `mapstructure:"max_output_chars"`
}

type MemoryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DBPath      string  `mapstructure:"db_path"`
	TopK        int     `mapstructure:"top_k"`
	MinSim      float64 `mapstructure:"min_sim"`
	MaxAgeSec   int64   `mapstructure:"max_age_sec"`
	TypesDefault []string `mapstructure:"types_default"`
}

type AgentConfig struct {
	SpecsPath   string `mapstructure:"specs_path"`
	RunsLogMode string `mapstructure:"runs_log_mode"` // ndjson | per_run | both
	RunsLogPath string `mapstructure:"runs_log_path"`
	RunsLogDir  string `mapstructure:"runs_log_dir"`
	QueueMax    int    `mapstructure:"queue_max"`
	ShedHeavy   bool   `mapstructure:"shed_heavy"`
	HeavyTierSlots int `mapstructure:"heavy_tier_slots"`
	MaxTurns    int    `mapstructure:"max_turns"`
}

type UIConfig struct {
	IPAllowlist  []string `mapstructure:"ip_allowlist"`
	ImageDir     string   `mapstructure:"image_dir"`
	ImageTTLSec  int64    `mapstructure:"image_ttl_sec"`
	ImageMaxBytes int64   `mapstructure:"image_max_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds the layered configuration: built-in defaults, a global
// ~/.ai-gateway/config.yaml, a local ./config.yaml merged on top, then
// GATEWAY_-prefixed environment variables (grounded on the teacher's own
// layering order).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".ai-gateway")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.max_request_bytes", 10<<20)
	v.SetDefault("gateway.request_log_path", "data/requests.jsonl")

	v.SetDefault("router.long_context_threshold", 24000)
	v.SetDefault("router.enable_policy", true)
	v.SetDefault("router.enable_request_type", true)

	v.SetDefault("tools.shell_timeout", "30s")
	v.SetDefault("tools.fs_max_bytes", 1<<20)
	v.SetDefault("tools.http_max_bytes", 1<<20)
	v.SetDefault("tools.http_timeout", "15s")
	v.SetDefault("tools.git_timeout", "15s")
	v.SetDefault("tools.max_output_chars", 20000)
	v.SetDefault("tools.log_mode", "ndjson")
	v.SetDefault("tools.log_path", "data/tools_bus.jsonl")

	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.min_sim", 0.6)
	v.SetDefault("memory.db_path", "data/memory.db")

	v.SetDefault("agent.runs_log_mode", "ndjson")
	v.SetDefault("agent.runs_log_path", "data/agent_runs.jsonl")
	v.SetDefault("agent.queue_max", 16)
	v.SetDefault("agent.heavy_tier_slots", 2)
	v.SetDefault("agent.max_turns", 8)

	v.SetDefault("ui.image_dir", "data/images")
	v.SetDefault("ui.image_ttl_sec", 3600)
	v.SetDefault("ui.image_max_bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
