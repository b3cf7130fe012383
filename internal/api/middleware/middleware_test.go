package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	apperrors "github.com/frostdev-ops/botpanel-monitor/pkg/errors"
	"github.com/frostdev-ops/botpanel-monitor/pkg/logger"
)

const testSecret = "panel-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authRouter(cfg config.AuthConfig) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(cfg, quietLogger()))
	r.GET("/api/v1/rules", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubject))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	enabled := config.AuthConfig{Enabled: true, JWTSecret: testSecret}
	valid := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name       string
		cfg        config.AuthConfig
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{name: "disabled", cfg: config.AuthConfig{}, wantStatus: http.StatusOK},
		{name: "missing header", cfg: enabled, wantStatus: http.StatusUnauthorized},
		{name: "malformed header", cfg: enabled, header: "Token abc", wantStatus: http.StatusUnauthorized},
		{name: "valid bearer", cfg: enabled, header: "Bearer " + valid, wantStatus: http.StatusOK, wantBody: "operator"},
		{name: "valid query token", cfg: enabled, query: "?token=" + valid, wantStatus: http.StatusOK, wantBody: "operator"},
		{
			name:       "wrong secret",
			cfg:        enabled,
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, "other", jwt.MapClaims{"sub": "x"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			cfg:        enabled,
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rules"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(authRouter(tt.cfg), req)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 3)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	now = now.Add(10 * time.Minute)
	rl.evictIdle()
	assert.Empty(t, rl.visitors)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	r := gin.New()
	r.Use(rl.RateLimitMiddleware())
	r.POST("/api/v1/metrics/:name/samples", func(c *gin.Context) { c.Status(http.StatusCreated) })

	first := serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/metrics/bot.messages/samples", nil))
	second := serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/metrics/bot.messages/samples", nil))
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRequestIDAndRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware(quietLogger()))
	r.GET("/panic", func(c *gin.Context) { panic("collector exploded") })
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = serve(r, req)
	assert.Equal(t, "req-42", w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestErrorResponseMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(ErrorResponseMiddleware(quietLogger()))
	r.GET("/conflict", func(c *gin.Context) { c.Error(apperrors.ErrConflict) })
	r.GET("/plain", func(c *gin.Context) { c.Error(errors.New("disk full")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Conflict")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware(config.SecurityConfig{AllowedOrigins: []string{"http://localhost:3000"}}))
	r.GET("/api/v1/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsAndLoggingMiddleware(t *testing.T) {
	em := metrics.NewEngineMetrics(nil)
	log, err := logger.New(logger.Options{Output: io.Discard, BatchSize: 10})
	require.NoError(t, err)

	r := gin.New()
	r.Use(LoggingMiddleware(log), MetricsMiddleware(em))
	r.GET("/api/v1/rules/:name", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/rules/cpu_high", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1, log.Pending())

	families, err := em.Registry().Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, family := range families {
		if family.GetName() != "botpanel_http_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "path" {
					found[label.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, found["/api/v1/rules/:name"])
	assert.True(t, found["unmatched"])
}
