// Package http is the Request Plane's (C10) HTTP surface: gin engine
// setup, middleware stack, and the full route table, wired against
// internal/application.App. Grounded on the teacher's own gin.Engine +
// middleware layering, rebuilt around the gateway's routes instead of
// the teacher's chat/agent/debug handler set.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ai-gateway/internal/application"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ai-gateway/internal/infrastructure/metrics"
	"github.com/ngoclaw/ai-gateway/internal/interfaces/http/handlers"
)

// Server owns the gin engine and its net/http.Server, built from an
// already-constructed application.App. It never constructs an App
// itself — application deliberately stays transport-agnostic, so the
// composition root (cmd/gateway/main.go) owns both lifecycles.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// NewServer builds the gin engine, registers every route, and wraps it
// in a net/http.Server bound to cfg.Host:cfg.Port.
func NewServer(app *application.App, cfg config.GatewayConfig, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(corsMiddleware(cfg))
	engine.Use(contentLengthGuard(cfg.MaxRequestBytes))
	engine.Use(metricsMiddleware(app.Metrics(), app.RequestLog()))

	h := handlers.New(app)

	engine.GET("/health", h.Health)
	engine.HEAD("/health", h.Health)
	engine.GET("/health/upstreams", h.HealthUpstreams)
	engine.GET("/metrics", gin.WrapH(app.Metrics().Handler()))

	authed := engine.Group("/v1")
	authed.Use(ipAllowlist(cfg.IPAllowlist))
	authed.Use(bearerAuth(cfg))
	{
		authed.GET("/gateway/status", h.GatewayStatus)

		authed.POST("/chat/completions", h.ChatCompletions)
		authed.POST("/completions", h.ChatCompletions)
		authed.GET("/models", h.ListModels)
		authed.GET("/models/:id", h.GetModel)
		authed.POST("/embeddings", h.Embeddings)
		authed.POST("/rerank", h.Rerank)

		authed.POST("/images/generations", h.Images)
		authed.POST("/music/generations", h.Music)
		authed.POST("/tts", h.TTS)
		authed.GET("/media/:id", h.ServeMedia)

		authed.GET("/tools", h.ListTools)
		authed.POST("/tools/:name", h.InvokeTool)
		authed.GET("/tools/replay/:replay_id", h.ReplayTool)

		authed.POST("/memory/upsert", h.MemoryUpsert)
		authed.GET("/memory/list", h.MemoryList)
		authed.POST("/memory/search", h.MemorySearch)
		authed.POST("/memory/compact", h.MemoryCompact)

		authed.GET("/agent", h.ListAgents)
		authed.POST("/agent/run", h.AgentRun)
		authed.GET("/agent/replay/:run_id", h.AgentReplay)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		engine: engine,
		http:   &http.Server{Addr: addr, Handler: engine},
		logger: logger.With(zap.String("component", "http-server")),
	}
}

// Start begins serving and blocks until the listener stops or ctx is
// cancelled, at which point it shuts down gracefully itself.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully drains in-flight requests before closing.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func corsMiddleware(cfg config.GatewayConfig) gin.HandlerFunc {
	if len(cfg.CORSAllowOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	corsCfg := cors.Config{
		AllowOrigins:     cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Backend", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Backend-Used", "X-Model-Used", "X-Router-Reason", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(corsCfg)
}

// contentLengthGuard rejects requests whose declared Content-Length
// exceeds maxBytes with 413, before the body is ever read. maxBytes<=0
// disables the guard.
func contentLengthGuard(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": gin.H{"code": "invalid_input", "message": "request body exceeds max_request_bytes"},
			})
			return
		}
		c.Next()
	}
}

// ipAllowlist restricts /v1 to the configured IP allowlist. An empty
// allowlist means no restriction.
func ipAllowlist(allowlist []string) gin.HandlerFunc {
	if len(allowlist) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, ip := range allowlist {
		allowed[ip] = true
	}
	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "forbidden", "message": "client IP not in allowlist"},
			})
			return
		}
		c.Next()
	}
}

// bearerAuth accepts either a static token from gateway.bearer_tokens or,
// when gateway.jwt_secret is set, an HS256 JWT signed with that secret.
// Absent both a token list and a secret, auth is disabled entirely —
// a gateway deployed behind its own trusted network boundary.
func bearerAuth(cfg config.GatewayConfig) gin.HandlerFunc {
	if len(cfg.BearerTokens) == 0 && cfg.JWTSecret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	staticTokens := make(map[string]bool, len(cfg.BearerTokens))
	for _, t := range cfg.BearerTokens {
		staticTokens[t] = true
	}
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorized(c)
			return
		}
		if staticTokens[token] {
			c.Next()
			return
		}
		if len(secret) > 0 {
			parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err == nil && parsed.Valid {
				c.Next()
				return
			}
		}
		unauthorized(c)
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "unauthorized", "message": "missing or invalid bearer token"},
	})
}

// metricsMiddleware records the generic per-request Prometheus metrics
// and appends one RequestLog line per request, enriched with whatever
// route_backend/route_model/route_reason a handler set on the context
// (setRouteContext in the handlers package) — one log line per request,
// not one per logging concern.
func metricsMiddleware(reg *metrics.Registry, log *metrics.RequestLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()

		reg.RequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
		reg.RequestDuration.WithLabelValues(path).Observe(duration.Seconds())

		entry := metrics.RequestLogEntry{
			Timestamp:  time.Now().Unix(),
			Method:     c.Request.Method,
			Path:       path,
			Status:     status,
			DurationMs: float64(duration.Microseconds()) / 1000.0,
			BytesOut:   int64(c.Writer.Size()),
		}
		if v, ok := c.Get("request_id"); ok {
			entry.RequestID, _ = v.(string)
		}
		if v, ok := c.Get("route_backend"); ok {
			entry.Backend, _ = v.(string)
		}
		if v, ok := c.Get("route_model"); ok {
			entry.Model, _ = v.(string)
		}
		if v, ok := c.Get("route_reason"); ok {
			entry.RouterReason, _ = v.(string)
		}
		if len(c.Errors) > 0 {
			entry.Error = c.Errors.String()
		}
		_ = log.Append(entry)
	}
}
