package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/athenaai/athena/internal/config"
	"github.com/athenaai/athena/internal/http/handlers"
	"github.com/athenaai/athena/internal/http/middleware"
	"github.com/athenaai/athena/internal/repo"
	"github.com/athenaai/athena/internal/services"
)

func newHandlers(t *testing.T) (*handlers.Handlers, func(context.Context) error) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := services.GormIdentityStore{DB: db}
	retry := services.DefaultRetryPolicy()
	h := handlers.New(
		services.NewIdentityResolver(store, retry, nil),
		services.NewPlatformLinker(store, db, retry),
		services.NewLedger(db),
		services.NewBackfill(services.GormBackfillStore{DB: db}),
	)
	return h, sqlDB.PingContext
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func serve(r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h, ready := newHandlers(t)
	RegisterRoutes(r, Deps{Handlers: h, Ready: ready}, baseConfig())

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://any.example"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "athena_http_requests_total")

	w = serve(r, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), handlers.ErrCodeNotFound)

	w = serve(r, http.MethodDelete, "/api/v1/identities/resolve", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Contains(t, w.Body.String(), handlers.ErrCodeMethodNotAllowed)

	// Swagger is off by default.
	w = serve(r, http.MethodGet, "/swagger/index.html", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://ops.example"}}
	h, _ := newHandlers(t)
	RegisterRoutes(r, Deps{Handlers: h}, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://ops.example"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://ops.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealth_StoreDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h, _ := newHandlers(t)
	down := func(context.Context) error { return errors.New("connection refused") }
	RegisterRoutes(r, Deps{Handlers: h, Ready: down}, baseConfig())

	w := serve(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "degraded")
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	h, _ := newHandlers(t)
	RegisterRoutes(r, Deps{Handlers: h}, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/identities/resolve")
	require.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestRegisterRoutes_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	h, _ := newHandlers(t)
	RegisterRoutes(r, Deps{Handlers: h}, cfg)

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", nil).Code)
	w := serve(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), handlers.ErrCodeRateLimited)
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(make([]byte, 11))))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(make([]byte, 10))))
	require.Equal(t, http.StatusOK, w.Code)
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/a", func(c *gin.Context) { c.Status(http.StatusOK) })
	groupWithPrefix(r, "").GET("/b", func(c *gin.Context) { c.Status(http.StatusOK) })
	groupWithPrefix(r, "/api").GET("/c", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/a", "/b", "/api/c"} {
		require.Equal(t, http.StatusOK, serve(r, http.MethodGet, p, "", nil).Code, p)
	}
	require.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/c", "", nil).Code)
}

func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h, ready := newHandlers(t)
	RegisterRoutes(r, Deps{Handlers: h, Ready: ready}, baseConfig())

	w := serve(r, http.MethodPost, "/api/v1/identities/resolve",
		`{"platform":"discord","platform_user_id":"123456789012345678","display_name":"Ada"}`,
		map[string]string{"X-Request-ID": "req-smoke"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "req-smoke", w.Header().Get("X-Request-ID"))

	var res handlers.ResolveIdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.CanonicalUserID)

	w = serve(r, http.MethodGet, "/api/v1/users/"+res.CanonicalUserID+"/messages", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("ETag"))

	w = serve(r, http.MethodPost, "/api/v1/backfill", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Request-scoped logger is available to handlers.
	r.GET("/probe", func(c *gin.Context) {
		require.NotNil(t, middleware.LoggerFrom(c))
		c.Status(http.StatusNoContent)
	})
	require.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/probe", "", nil).Code)
}
