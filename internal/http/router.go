// Package httpapi wires the admin HTTP API (Gin) to the identity, ledger and
// backfill services, with tracing, request logging, metrics, rate limiting,
// CORS and security headers in front.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/athenaai/athena/internal/config"
	_ "github.com/athenaai/athena/internal/http/docs"
	"github.com/athenaai/athena/internal/http/handlers"
	"github.com/athenaai/athena/internal/http/middleware"
	"github.com/athenaai/athena/internal/ratelimit"
)

// maxBodyBytes caps request bodies; every payload is a small JSON object.
const maxBodyBytes = 64 << 10

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Handlers *handlers.Handlers
	// Ready reports whether the store answers; nil means always ready.
	Ready func(ctx context.Context) error
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (request-scoped logger, scrubbed metadata)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Rate limit per client IP
//  8. CORS and security headers
//  9. gzip
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.LogOptions{MaskHeaders: []string{"X-Admin-Token"}}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.RateRPS > 0 {
		r.Use(middleware.RateLimit(ratelimit.New(cfg.RateRPS, cfg.RateBurst), middleware.KeyByClientIP))
	}

	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(deps.Ready))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := deps.Handlers
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/identities/resolve", h.ResolveIdentity)

		api.GET("/users/:id", h.GetUser)
		api.POST("/users/:id/links", h.LinkPlatform)
		api.GET("/users/:id/messages", h.ListMessages)

		api.POST("/backfill", h.RunBackfill)
	}
}

// corsConfig allows any origin without credentials when no allowlist is set.
func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	return cc
}

// health answers 200 while the store responds and 503 otherwise.
func health(ready func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
