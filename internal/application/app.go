// Package application is the composition root: it builds every C1-C12
// component from config.Config and wires them together, the way the
// teacher's own App container built its repositories/use
// cases/adapters in one place. Unlike the teacher, the gateway has no
// persisted conversational entities — App owns stateless domain
// registries, admission/health-gate infrastructure, and the Tool Bus
// and Agent Runtime, and exposes them to the HTTP surface
// (internal/interfaces/http) through accessor methods rather than by
// importing that package itself, so the two layers don't cycle.
package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/application/admission"
	"github.com/ngoclaw/ai-gateway/internal/application/agentloop"
	"github.com/ngoclaw/ai-gateway/internal/domain/agentrun"
	"github.com/ngoclaw/ai-gateway/internal/domain/alias"
	"github.com/ngoclaw/ai-gateway/internal/domain/backend"
	"github.com/ngoclaw/ai-gateway/internal/domain/memory"
	"github.com/ngoclaw/ai-gateway/internal/domain/route"
	"github.com/ngoclaw/ai-gateway/internal/domain/service"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/embedding"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/healthgate"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/imagestore"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/llm"
	llmopenai "github.com/ngoclaw/ai-gateway/internal/infrastructure/llm/openai"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/metrics"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/persistence"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/toolbus"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/toolexec"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream"
	upstreamndjson "github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream/ndjson"
	upstreamopenai "github.com/ngoclaw/ai-gateway/internal/infrastructure/upstream/openai"
)

// UpstreamClient is the dialect-agnostic surface the request plane
// dispatches chat/embeddings calls through (internal/infrastructure/
// upstream.Client, implemented once per dialect).
type UpstreamClient = upstream.Client

// App is the built, ready-to-serve instance of every component the
// request plane and background services depend on.
type App struct {
	config *config.Config
	logger *zap.Logger

	backends   *backend.Registry
	aliases    *alias.Registry
	healthGate *healthgate.Gate
	admission  *admission.Controller
	routeCfg   route.Config

	upstreams map[string]UpstreamClient

	toolBus      *toolbus.Bus
	llmRouter    *llm.Router
	agentRuntime *agentloop.Runtime
	agentSpecs   map[string]agentrun.AgentSpec

	metrics    *metrics.Registry
	requestLog *metrics.RequestLog
	imageStore *imagestore.Store

	memoryManager *memory.Manager
}

// NewApp builds the full dependency graph from cfg. Failure here is
// always a startup error — the gateway never partially boots.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	backends, err := buildBackendRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend registry: %w", err)
	}

	knownBackends := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		knownBackends[b.ID] = true
	}
	aliases, err := buildAliasRegistry(cfg, knownBackends)
	if err != nil {
		return nil, fmt.Errorf("alias registry: %w", err)
	}

	gate := healthgate.New(backends, healthgate.DefaultConfig(), logger)
	adm := admission.New(backends)

	routeCfg := route.Config{
		Backends:               backends,
		Aliases:                aliases,
		DefaultBackend:         cfg.Router.DefaultBackend,
		LongContextCharsThresh: cfg.Router.LongContextCharsThresh,
		EnablePolicy:           cfg.Router.EnablePolicy,
		EnableRequestType:      cfg.Router.EnableRequestType,
	}

	upstreams := make(map[string]UpstreamClient, len(cfg.Backends))
	llmRouter := llm.NewRouter(logger)
	for _, b := range cfg.Backends {
		baseURL := os.ExpandEnv(b.BaseURL)
		switch b.Dialect {
		case "ndjson":
			upstreams[b.ID] = upstreamndjson.New(baseURL, logger)
		default:
			upstreams[b.ID] = upstreamopenai.New(baseURL, logger)
			llmRouter.AddProvider(llmopenai.New(llm.ProviderConfig{
				Name:    b.ID,
				Type:    "openai",
				BaseURL: baseURL,
				APIKey:  os.ExpandEnv(b.APIKey),
				Models:  nonEmptyStrings(b.StrongModel, b.FastModel),
			}, logger))
		}
	}

	toolCfg := toolbus.Config{
		Allowlist:        cfg.Tools.Allowlist,
		AllowShell:       cfg.Tools.AllowShell,
		ShellAllowedCmds: cfg.Tools.ShellAllowedCmds,
		ShellCWD:         cfg.Tools.ShellCWD,
		ShellTimeout:     cfg.Tools.ShellTimeout,
		AllowFS:          cfg.Tools.AllowFS,
		AllowFSWrite:     cfg.Tools.AllowFSWrite,
		FSRoots:          cfg.Tools.FSRoots,
		FSMaxBytes:       cfg.Tools.FSMaxBytes,
		AllowHTTPFetch:   cfg.Tools.AllowHTTPFetch,
		HTTPAllowedHosts: cfg.Tools.HTTPAllowedHosts,
		HTTPMaxBytes:     cfg.Tools.HTTPMaxBytes,
		HTTPTimeout:      cfg.Tools.HTTPTimeout,
		AllowGit:         cfg.Tools.AllowGit,
		GitCWD:           cfg.Tools.GitCWD,
		GitTimeout:       cfg.Tools.GitTimeout,
		MaxOutputChars:   cfg.Tools.MaxOutputChars,
		LogPath:          cfg.Tools.LogPath,
	}
	toolBus := toolbus.New(toolCfg, nil, logger)

	var agentSpecs map[string]agentrun.AgentSpec
	if cfg.Agent.SpecsPath != "" {
		data, readErr := os.ReadFile(cfg.Agent.SpecsPath)
		switch {
		case readErr == nil:
			agentSpecs, err = agentloop.LoadAgentSpecs(data)
			if err != nil {
				return nil, fmt.Errorf("agent specs: %w", err)
			}
		case !os.IsNotExist(readErr):
			return nil, fmt.Errorf("agent specs: %w", readErr)
		}
	}
	if agentSpecs == nil {
		agentSpecs = map[string]agentrun.AgentSpec{}
	}

	var heavyGate *agentloop.HeavyTierGate
	if cfg.Agent.ShedHeavy {
		heavyGate = agentloop.NewHeavyTierGate(cfg.Agent.HeavyTierSlots)
	}
	agentRuntime := agentloop.New(llmRouter, toolexec.New(toolBus), agentloop.Config{
		ShedHeavy:       cfg.Agent.ShedHeavy,
		DefaultMaxTurns: cfg.Agent.MaxTurns,
	}, heavyGate, logger)

	metricsReg := metrics.New()
	requestLog := metrics.NewRequestLog(cfg.Gateway.RequestLogPath)

	imgStore, err := imagestore.New(cfg.UI.ImageDir, time.Duration(cfg.UI.ImageTTLSec)*time.Second, cfg.UI.ImageMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("image store: %w", err)
	}

	var memManager *memory.Manager
	if cfg.Memory.Enabled {
		db, dbErr := persistence.NewSQLiteConnection(cfg.Memory.DBPath)
		if dbErr != nil {
			return nil, fmt.Errorf("memory store: %w", dbErr)
		}
		store := persistence.NewSQLiteVectorStore(db)
		embedder, embErr := defaultEmbedder(cfg, logger)
		if embErr != nil {
			return nil, fmt.Errorf("memory embedder: %w", embErr)
		}
		memManager = memory.NewManager(store, embedder)
	}

	return &App{
		config:        cfg,
		logger:        logger,
		backends:      backends,
		aliases:       aliases,
		healthGate:    gate,
		admission:     adm,
		routeCfg:      routeCfg,
		upstreams:     upstreams,
		toolBus:       toolBus,
		llmRouter:     llmRouter,
		agentRuntime:  agentRuntime,
		agentSpecs:    agentSpecs,
		metrics:       metricsReg,
		requestLog:    requestLog,
		imageStore:    imgStore,
		memoryManager: memManager,
	}, nil
}

// defaultEmbedder picks the embedding provider backing /v1/memory/*: the
// OllamaEmbedder against the first ndjson-dialect backend if one is
// configured, otherwise the dependency-free SimpleEmbedder.
func defaultEmbedder(cfg *config.Config, logger *zap.Logger) (memory.EmbeddingProvider, error) {
	for _, b := range cfg.Backends {
		if b.Dialect == "ndjson" {
			model := b.FastModel
			if model == "" {
				model = b.StrongModel
			}
			return embedding.NewOllamaEmbedder(os.ExpandEnv(b.BaseURL), model, logger)
		}
	}
	return memory.NewSimpleEmbedder(256), nil
}

func buildBackendRegistry(cfg *config.Config) (*backend.Registry, error) {
	backends := make([]backend.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		caps := make([]backend.Capability, 0, len(b.Capabilities))
		for _, c := range b.Capabilities {
			caps = append(caps, backend.Capability(c))
		}
		limits := make(map[backend.Capability]int, len(b.ConcurrencyLimits))
		for c, n := range b.ConcurrencyLimits {
			limits[backend.Capability(c)] = n
		}
		backends = append(backends, backend.Backend{
			ID:                b.ID,
			BaseURL:           b.BaseURL,
			Description:       b.Description,
			Capabilities:      caps,
			ConcurrencyLimits: limits,
			LivenessPath:      b.LivenessPath,
			ReadinessPath:     b.ReadinessPath,
			PayloadPolicy: backend.PayloadPolicy{
				MaxRequestBytes: cfg.Gateway.MaxRequestBytes,
				DefaultResponse: b.PayloadPolicy,
				Dialect:         b.Dialect,
			},
			StrongModel:   b.StrongModel,
			FastModel:     b.FastModel,
			LegacyAliases: b.LegacyAliases,
		})
	}
	return backend.NewRegistry(backends)
}

func buildAliasRegistry(cfg *config.Config, knownBackends map[string]bool) (*alias.Registry, error) {
	aliases := make([]alias.Alias, 0, len(cfg.Aliases))
	for _, a := range cfg.Aliases {
		entry := alias.Alias{
			Name:          a.Name,
			Backend:       a.Backend,
			UpstreamModel: a.UpstreamModel,
			ContextWindow: a.ContextWindow,
			ToolsAllowed:  a.ToolsAllowed,
			MaxTokensCap:  a.MaxTokensCap,
		}
		if a.TemperatureCap != nil {
			entry.TemperatureCap = *a.TemperatureCap
		}
		aliases = append(aliases, entry)
	}
	return alias.NewRegistry(aliases, knownBackends)
}

func nonEmptyStrings(ss ...string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// --- Accessors for the HTTP surface (internal/interfaces/http) ---

func (a *App) Config() *config.Config           { return a.config }
func (a *App) Logger() *zap.Logger              { return a.logger }
func (a *App) Backends() *backend.Registry      { return a.backends }
func (a *App) Aliases() *alias.Registry         { return a.aliases }
func (a *App) HealthGate() *healthgate.Gate     { return a.healthGate }
func (a *App) Admission() *admission.Controller { return a.admission }
func (a *App) RouteConfig() route.Config        { return a.routeCfg }
func (a *App) ToolBus() *toolbus.Bus            { return a.toolBus }
func (a *App) LLMRouter() *llm.Router           { return a.llmRouter }
func (a *App) AgentRuntime() *agentloop.Runtime { return a.agentRuntime }
func (a *App) Metrics() *metrics.Registry       { return a.metrics }
func (a *App) RequestLog() *metrics.RequestLog  { return a.requestLog }
func (a *App) ImageStore() *imagestore.Store    { return a.imageStore }
func (a *App) MemoryManager() *memory.Manager   { return a.memoryManager }

// AgentSpec returns the named agent spec, or false if undeclared.
func (a *App) AgentSpec(name string) (agentrun.AgentSpec, bool) {
	spec, ok := a.agentSpecs[name]
	return spec, ok
}

// AgentSpecNames lists every declared agent, for GET /v1/agent listings.
func (a *App) AgentSpecNames() []string {
	names := make([]string, 0, len(a.agentSpecs))
	for name := range a.agentSpecs {
		names = append(names, name)
	}
	return names
}

// Upstream returns the dialect client wired for backendID.
func (a *App) Upstream(backendID string) (UpstreamClient, bool) {
	c, ok := a.upstreams[backendID]
	return c, ok
}

// ToolExecutor adapts the Tool Bus registry to service.ToolExecutor for
// HTTP handlers that need tool listings/execution outside the agent
// runtime's own ToolInvoker path.
func (a *App) ToolExecutor() service.ToolExecutor {
	return &toolBridge{registry: a.toolBus.Registry()}
}

// Start brings up every background service (currently just the health
// gate's polling loop; the HTTP listener is started separately by
// cmd/gateway so this package stays transport-agnostic).
func (a *App) Start(ctx context.Context) error {
	a.healthGate.Start(ctx)
	return nil
}

// Stop tears down background services. The HTTP listener's shutdown is
// the caller's responsibility.
func (a *App) Stop(ctx context.Context) error {
	a.healthGate.Stop()
	return nil
}
