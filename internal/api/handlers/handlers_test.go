package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitor"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/sqlite"
)

const handlerRules = `
rules:
  - name: queue_backlog
    metric_pattern: queueDepth
    condition: threshold
    value_key: pending
    params: {operator: gte, threshold: 100}
    severity: high
    actions: [log]
`

type fakeAudit struct {
	events []sqlite.AuditEvent
	err    error
	kind   string
	limit  int
}

func (f *fakeAudit) List(ctx context.Context, kind string, limit int) ([]sqlite.AuditEvent, error) {
	f.kind = kind
	f.limit = limit
	return f.events, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    int             `json:"code"`
	Details interface{}     `json:"details"`
	Meta    map[string]any  `json:"meta"`
}

type testServer struct {
	router  *gin.Engine
	service *monitor.MonitoringService
	clock   *clock.Fake
	audit   *fakeAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(handlerRules), 0o600))
	cfg := &config.MonitoringConfig{
		Enabled: true,
		Alerts:  config.MonitoringAlertsConfig{Enabled: true, RulesFile: path},
	}

	clk := clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, err := monitor.NewMonitoringService(monitor.Options{
		Config:  cfg,
		Rollups: analytics.NewMemoryRollupStore(),
		Clock:   clk,
	}, logger)
	require.NoError(t, err)

	audit := &fakeAudit{}
	h := NewHandlers(svc, audit, nil, logger)

	router := gin.New()
	router.GET("/health", h.GetHealth)
	router.GET("/health/live", h.GetLiveness)
	v1 := router.Group("/api/v1")
	v1.GET("/metrics", h.GetMetricNames)
	v1.GET("/metrics/:name", h.GetMetrics)
	v1.GET("/metrics/:name/aggregated", h.GetAggregatedMetrics)
	v1.POST("/metrics/:name/samples", h.RecordSample)
	v1.POST("/collect", h.CollectNow)
	v1.GET("/alerts", h.GetAlerts)
	v1.GET("/alerts/active", h.GetActiveAlerts)
	v1.GET("/alerts/pending", h.GetPendingAlerts)
	v1.GET("/alerts/history", h.GetAlertHistory)
	v1.GET("/alerts/:id", h.GetAlert)
	v1.POST("/alerts/:id/resolve", h.ResolveAlert)
	v1.GET("/rules", h.GetRules)
	v1.POST("/rules", h.CreateRule)
	v1.GET("/rules/:name", h.GetRule)
	v1.PUT("/rules/:name", h.UpdateRule)
	v1.DELETE("/rules/:name", h.DeleteRule)
	v1.POST("/rules/:name/enable", h.EnableRule)
	v1.POST("/rules/:name/disable", h.DisableRule)
	v1.GET("/suppressions", h.ListSuppressions)
	v1.POST("/suppressions", h.SuppressAlert)
	v1.GET("/suppressions/:rule", h.GetSuppression)
	v1.DELETE("/suppressions/:rule", h.UnsuppressAlert)
	v1.GET("/statistics", h.GetStatistics)
	v1.GET("/status", h.GetStatus)
	v1.GET("/audit", h.GetAuditLog)

	return &testServer{router: router, service: svc, clock: clk, audit: audit}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRecordSampleAndQuery(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/v1/metrics/messages.sent/samples", gin.H{"value": 0})
	assert.Equal(t, http.StatusCreated, w.Code, "zero is a valid sample value")

	w, _ = s.do(t, http.MethodPost, "/api/v1/metrics/messages.sent/samples", gin.H{"value": 12.5})
	assert.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/metrics/messages.sent/samples", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/metrics/messages.sent/samples", gin.H{"value": "lots"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/metrics/messages.sent/samples", gin.H{"value": 7, "timestamp": s.clock.Now().Add(-2 * time.Hour)})
	assert.Equal(t, http.StatusBadRequest, w.Code, "samples older than retention are rejected")

	w, env := s.do(t, http.MethodGet, "/api/v1/metrics/messages.sent?range=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 2)
	assert.Equal(t, float64(2), env.Meta["count"])

	w, env = s.do(t, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"messages.sent"}, decode[[]string](t, env.Data))

	w, _ = s.do(t, http.MethodGet, "/api/v1/metrics/messages.sent?range=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAggregatedMetrics_UnknownWindow(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/metrics/bot.latency/aggregated?window=5m", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)

	w, env = s.do(t, http.MethodGet, "/api/v1/metrics/bot.latency/aggregated?range=7d", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1m", env.Meta["window"])
}

func TestAlertEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/v1/metrics/queueDepth/samples", gin.H{"value": gin.H{"pending": 150}})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/alerts/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := decode[[]map[string]any](t, env.Data)
	require.Len(t, active, 1)
	id := active[0]["id"].(string)

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/alerts?severity=high", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), env.Meta["count"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts?severity=urgent", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts?severity=high&metric=queueDepth", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", gin.H{"resolved_by": "ops"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", decode[map[string]any](t, env.Data)["resolved_by"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/alerts/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), env.Meta["limit"])
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/alerts/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, env.Data))
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t)

	rule := gin.H{
		"name":           "latency_high",
		"metric_pattern": "bot.*.latency",
		"condition":      "threshold",
		"params":         gin.H{"operator": ">", "threshold": 500},
		"severity":       "medium",
		"duration":       "2m",
	}

	w, env := s.do(t, http.MethodPost, "/api/v1/rules", rule)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, env.Data)
	assert.Equal(t, true, created["enabled"], "rules are enabled unless stated otherwise")
	assert.Equal(t, float64(120000), created["duration_ms"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/rules", rule)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/rules", gin.H{"name": "broken"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/rules", gin.H{"name": "x", "duration": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	update := gin.H{
		"metric_pattern": "bot.*.latency",
		"condition":      "threshold",
		"params":         gin.H{"operator": ">", "threshold": 800},
		"severity":       "high",
		"enabled":        false,
	}
	w, env = s.do(t, http.MethodPut, "/api/v1/rules/latency_high", update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[map[string]any](t, env.Data)
	assert.Equal(t, "high", updated["severity"])
	assert.Equal(t, false, updated["enabled"])

	w, env = s.do(t, http.MethodPost, "/api/v1/rules/latency_high/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, env.Data)["enabled"])

	w, env = s.do(t, http.MethodPost, "/api/v1/rules/latency_high/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, env.Data)["enabled"])

	w, env = s.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), env.Meta["count"])

	w, _ = s.do(t, http.MethodDelete, "/api/v1/rules/latency_high", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/rules/latency_high", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/rules/latency_high/enable", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSuppressionEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/v1/suppressions", gin.H{"rule_name": "queue_backlog", "duration": "0s"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/suppressions", gin.H{"rule_name": "unknown", "duration": "10m"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/v1/suppressions", gin.H{
		"rule_name": "queue_backlog",
		"duration":  "30m",
		"reason":    "broker maintenance",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "broker maintenance", decode[map[string]any](t, env.Data)["reason"])

	w, env = s.do(t, http.MethodGet, "/api/v1/suppressions/queue_backlog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, env.Data)["suppressed"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/metrics/queueDepth/samples", gin.H{"value": gin.H{"pending": 500}})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, s.service.GetActiveAlerts())

	w, env = s.do(t, http.MethodGet, "/api/v1/suppressions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), env.Meta["count"])

	w, _ = s.do(t, http.MethodDelete, "/api/v1/suppressions/queue_backlog", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodDelete, "/api/v1/suppressions/queue_backlog", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/suppressions/queue_backlog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, env.Data)["suppressed"])
}

func TestSystemEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, env.Data)
	assert.Contains(t, status, "version")
	assert.NotContains(t, status, "websocket")

	w, _ = s.do(t, http.MethodGet, "/api/v1/statistics?range=24h", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/statistics?range=-1h", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Contains(t, health, "components")
}

func TestGetAuditLog(t *testing.T) {
	s := newTestServer(t)
	s.audit.events = []sqlite.AuditEvent{{ID: 1, Kind: "alert.activated"}}

	w, env := s.do(t, http.MethodGet, "/api/v1/audit?kind=alert.activated&limit=5000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alert.activated", s.audit.kind)
	assert.Equal(t, 1000, s.audit.limit)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	s.audit.err = errors.New("disk I/O error")
	w, env = s.do(t, http.MethodGet, "/api/v1/audit", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, env.Error, "disk", "internal errors are not leaked")
}

func TestGetAuditLog_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(nil, nil, nil, logrus.New())
	router := gin.New()
	router.GET("/audit", h.GetAuditLog)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"90s", 90 * time.Second, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"xd", 0, true},
		{"-5m", 0, true},
		{"later", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseRange(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
