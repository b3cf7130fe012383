package monitor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/botpanel-monitor/internal/config"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const testRules = `
rules:
  - name: queue_backlog
    metric_pattern: queueDepth
    condition: threshold
    value_key: pending
    params: {operator: gte, threshold: 100}
    severity: high
    actions: [notify.admin, log]
escalation_policies:
  - severity: high
    levels:
      - {delay: 0s, actions: [notify.admin]}
    max_levels: 1
    cooldown: 10m
`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, rules string) (*MonitoringService, *clock.Fake, *analytics.MemoryRollupStore) {
	t.Helper()
	cfg := &config.MonitoringConfig{
		Enabled:            true,
		CollectionInterval: "5s",
		Alerts:             config.MonitoringAlertsConfig{Enabled: true},
	}
	if rules != "" {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))
		cfg.Alerts.RulesFile = path
	}

	clk := clock.NewFake(testStart)
	rollups := analytics.NewMemoryRollupStore()
	svc, err := NewMonitoringService(Options{Config: cfg, Rollups: rollups, Clock: clk}, testLogger())
	require.NoError(t, err)
	return svc, clk, rollups
}

func TestNewMonitoringService_LoadsRulesFile(t *testing.T) {
	svc, _, _ := newTestService(t, testRules)

	rules := svc.GetRules()
	require.Len(t, rules, 1)
	assert.Equal(t, "queue_backlog", rules[0].Name)

	policy, ok := svc.Engine().Escalation().Policy(monitoring.SeverityHigh)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, policy.Cooldown)
	_, ok = svc.Engine().Escalation().Policy(monitoring.SeverityCritical)
	assert.False(t, ok, "policies from the rules file replace the defaults")
}

func TestNewMonitoringService_MissingRulesFile(t *testing.T) {
	cfg := &config.MonitoringConfig{
		Enabled: true,
		Alerts:  config.MonitoringAlertsConfig{Enabled: true, RulesFile: filepath.Join(t.TempDir(), "absent.yaml")},
	}
	svc, err := NewMonitoringService(Options{Config: cfg}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, svc.GetRules())

	_, ok := svc.Engine().Escalation().Policy(monitoring.SeverityCritical)
	assert.True(t, ok, "built-in policies apply without a rules file")
}

func TestNewMonitoringService_InvalidRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - {name: broken}\n"), 0o600))

	cfg := &config.MonitoringConfig{Alerts: config.MonitoringAlertsConfig{Enabled: true, RulesFile: path}}
	_, err := NewMonitoringService(Options{Config: cfg}, testLogger())
	assert.Error(t, err)
}

func TestCollectNow_RaisesAlertFromCollector(t *testing.T) {
	svc, _, _ := newTestService(t, testRules)
	require.NoError(t, svc.RegisterCollector("queueDepth", func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"pending": 120, "failed": 3}, nil
	}))
	require.NoError(t, svc.RegisterCollector("whatsapp.session", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("session unavailable")
	}))

	result, err := svc.CollectNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Collected)
	assert.Equal(t, 1, result.Failed)

	active := svc.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "queue_backlog", active[0].RuleName)
	assert.Len(t, svc.GetAlertsByMetric("queueDepth"), 1)
	assert.Len(t, svc.GetAlertsBySeverity(monitoring.SeverityHigh), 1)

	got, err := svc.GetAlert(active[0].ID)
	require.NoError(t, err)
	assert.Equal(t, active[0].ID, got.ID)

	resolved, err := svc.ResolveAlert(active[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, "manual", resolved.ResolvedBy)
	assert.Empty(t, svc.GetActiveAlerts())

	_, err = svc.GetAlert("missing")
	assert.ErrorIs(t, err, monitoring.ErrAlertNotFound)
}

func TestRecordSampleAndGetMetrics(t *testing.T) {
	svc, clk, _ := newTestService(t, "")

	for i := 0; i < 5; i++ {
		_, err := svc.RecordSample("messages.sent", i, time.Time{})
		require.NoError(t, err)
		clk.Advance(10 * time.Minute)
	}

	assert.Len(t, svc.GetMetrics("messages.sent", 25*time.Minute), 2)
	assert.Len(t, svc.GetMetrics("messages.sent", 0), 5)
	assert.Equal(t, []string{"messages.sent"}, svc.GetMetricNames())

	_, err := svc.RecordSample("", 1, time.Time{})
	assert.Error(t, err)
	_, err = svc.RecordSample("messages.sent", "lots", time.Time{})
	assert.Error(t, err)
}

func TestRecordSample_RejectsExpiredTimestamp(t *testing.T) {
	svc, clk, _ := newTestService(t, testRules)

	_, err := svc.RecordSample("queueDepth", map[string]int{"pending": 150}, clk.Now().Add(-2*time.Hour))
	require.ErrorIs(t, err, metrics.ErrSampleExpired)
	assert.Empty(t, svc.GetMetrics("queueDepth", 0))
	assert.Empty(t, svc.GetActiveAlerts(), "expired samples never reach the alerting engine")

	_, err = svc.RecordSample("queueDepth", map[string]int{"pending": 150}, clk.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, svc.GetActiveAlerts(), 1)
}

func TestGetAggregatedMetrics(t *testing.T) {
	svc, clk, rollups := newTestService(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Aggregator().Start(ctx)

	for _, v := range []float64{10, 20, 30} {
		_, err := svc.RecordSample("bot.latency", v, time.Time{})
		require.NoError(t, err)
		clk.Advance(10 * time.Second)
	}

	records := svc.AggregateNow()
	require.Len(t, records, 3, "one record per window on the first tick")
	svc.Aggregator().Stop()

	got, err := svc.GetAggregatedMetrics(context.Background(), "bot.latency", "1m", time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].Stats["avg"])
	assert.Equal(t, 3.0, got[0].Stats["count"])

	stored, err := rollups.Query(context.Background(), "bot.latency", "1h", time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = svc.GetAggregatedMetrics(context.Background(), "bot.latency", "5m", time.Hour)
	assert.ErrorIs(t, err, analytics.ErrUnknownWindow)
}

func TestRuleAndSuppressionOperations(t *testing.T) {
	svc, clk, _ := newTestService(t, "")

	rule := monitoring.AlertRule{
		Name:          "memory_high",
		MetricPattern: metrics.SystemMemory,
		Condition:     monitoring.ConditionThreshold,
		ValueKey:      "used_percent",
		Params:        map[string]interface{}{"operator": ">", "threshold": 90},
		Severity:      monitoring.SeverityMedium,
		Actions:       []string{monitoring.ActionNotify},
		Enabled:       true,
	}
	require.NoError(t, svc.AddRule(rule))
	require.NoError(t, svc.DisableRule("memory_high"))
	require.NoError(t, svc.EnableRule("memory_high"))

	got, err := svc.GetRule("memory_high")
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	_, err = svc.SuppressAlert("memory_high", 15*time.Minute, "node upgrade")
	require.NoError(t, err)
	assert.True(t, svc.IsAlertSuppressed("memory_high"))
	sup, ok := svc.GetSuppression("memory_high")
	require.True(t, ok)
	assert.Equal(t, "node upgrade", sup.Reason)
	assert.Len(t, svc.ListSuppressions(), 1)

	_, err = svc.RecordSample(metrics.SystemMemory, map[string]float64{"used_percent": 95}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, svc.GetActiveAlerts())

	assert.True(t, svc.UnsuppressAlert("memory_high"))
	assert.False(t, svc.UnsuppressAlert("memory_high"))
	clk.Advance(time.Second)
	_, err = svc.RecordSample(metrics.SystemMemory, map[string]float64{"used_percent": 95}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, svc.GetActiveAlerts(), 1)

	require.NoError(t, svc.RemoveRule("memory_high"))
	assert.Empty(t, svc.GetActiveAlerts())
	assert.ErrorIs(t, svc.RemoveRule("memory_high"), monitoring.ErrRuleNotFound)
}

func TestStatisticsAndStatus(t *testing.T) {
	svc, clk, _ := newTestService(t, testRules)
	_, err := svc.RecordSample("queueDepth", map[string]int{"pending": 150}, time.Time{})
	require.NoError(t, err)
	clk.Advance(3 * time.Minute)
	_, err = svc.RecordSample("queueDepth", map[string]int{"pending": 10}, time.Time{})
	require.NoError(t, err)

	stats := svc.GetStatistics(time.Hour)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByState[monitoring.StateResolved])
	assert.Equal(t, (3 * time.Minute).Milliseconds(), stats.MeanTimeToResolve)
	assert.Equal(t, uint64(2), stats.SamplesStored)
	assert.Equal(t, 1, stats.Series)

	assert.Equal(t, 0, svc.GetStatistics(time.Minute).Total, "alert first seen outside the range")

	status := svc.GetStatus()
	assert.Equal(t, false, status["running"])
	assert.Equal(t, 1, status["series"])
	assert.Contains(t, status, "alerting")
	assert.Contains(t, status, "aggregator")
}

func TestCleanup(t *testing.T) {
	svc, clk, _ := newTestService(t, testRules)
	_, err := svc.RecordSample("queueDepth", map[string]int{"pending": 150}, time.Time{})
	require.NoError(t, err)
	_, err = svc.RecordSample("queueDepth", map[string]int{"pending": 0}, time.Time{})
	require.NoError(t, err)
	require.Len(t, svc.GetAlertHistory(0), 1)

	clk.Advance(8 * 24 * time.Hour)
	svc.Cleanup()

	assert.Empty(t, svc.GetAlertHistory(0))
	assert.Empty(t, svc.GetMetricNames())
	assert.Contains(t, svc.GetStatus(), "last_cleanup")
}

type retainingAudit struct {
	cutoff time.Time
}

func (a *retainingAudit) Log(ctx context.Context, kind string, details map[string]interface{}) error {
	return nil
}

func (a *retainingAudit) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	a.cutoff = cutoff
	return 3, nil
}

func TestCleanup_PrunesAuditLog(t *testing.T) {
	clk := clock.NewFake(testStart)
	audit := &retainingAudit{}
	cfg := &config.MonitoringConfig{Alerts: config.MonitoringAlertsConfig{Enabled: true, Retention: "24h"}}
	svc, err := NewMonitoringService(Options{Config: cfg, Audit: audit, Clock: clk}, testLogger())
	require.NoError(t, err)

	svc.Cleanup()
	assert.Equal(t, testStart.Add(-24*time.Hour), audit.cutoff)
}

func TestHealth(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	report := svc.Health(context.Background())
	assert.Equal(t, metrics.HealthHealthy, report.Status)
	assert.Contains(t, report.Components, "collection")
	assert.Contains(t, report.Components, "alerting")
	assert.Contains(t, report.Components, "rollups")

	require.NoError(t, svc.AddRule(monitoring.AlertRule{
		Name:          "bot_down",
		MetricPattern: "bot.connected",
		Condition:     monitoring.ConditionThreshold,
		Params:        map[string]interface{}{"operator": "<", "threshold": 1},
		Severity:      monitoring.SeverityCritical,
		Enabled:       true,
	}))
	_, err := svc.RecordSample("bot.connected", 0, time.Time{})
	require.NoError(t, err)

	report = svc.Health(context.Background())
	assert.Equal(t, metrics.HealthDegraded, report.Status)
	assert.Equal(t, metrics.HealthDegraded, report.Components["alerting"].Status)
}

func TestStartStop(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsRunning())
	assert.Error(t, svc.Start(context.Background()))

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.Error(t, svc.Start(context.Background()), "a stopped service is not restarted")
	require.NoError(t, svc.Stop())
}
