package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
)

// RecordSample stores an externally produced sample, e.g. a bot event counter.
// A zero timestamp is stamped with the current time; one older than the
// retention window is rejected.
func (s *MonitoringService) RecordSample(name string, raw interface{}, timestamp time.Time) (metrics.Sample, error) {
	if name == "" {
		return metrics.Sample{}, fmt.Errorf("metric name is required")
	}
	value, err := metrics.NewValue(raw)
	if err != nil {
		return metrics.Sample{}, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	if s.store.Expired(timestamp) {
		return metrics.Sample{}, fmt.Errorf("invalid timestamp for %s: %w", name, metrics.ErrSampleExpired)
	}
	return s.store.Store(metrics.Sample{Name: name, Value: value, Timestamp: timestamp}), nil
}

// GetMetrics returns raw samples of a metric inside the last timeRange.
// A non-positive range returns everything still retained.
func (s *MonitoringService) GetMetrics(name string, timeRange time.Duration) []metrics.Sample {
	if timeRange <= 0 {
		timeRange = s.store.Retention()
	}
	return s.store.Recent(name, timeRange)
}

// GetMetricNames returns every metric with retained samples
func (s *MonitoringService) GetMetricNames() []string {
	return s.store.Names()
}

// GetAggregatedMetrics returns rollups of a metric for a window inside the last timeRange
func (s *MonitoringService) GetAggregatedMetrics(ctx context.Context, name, window string, timeRange time.Duration) ([]analytics.Record, error) {
	var since time.Time
	if timeRange > 0 {
		since = s.clock.Now().Add(-timeRange)
	}
	return s.aggregator.Query(ctx, name, window, since)
}

// GetActiveAlerts returns alerts in the active state
func (s *MonitoringService) GetActiveAlerts() []monitoring.Alert {
	return s.engine.Lifecycle().Active()
}

// GetPendingAlerts returns alerts still inside their hysteresis duration
func (s *MonitoringService) GetPendingAlerts() []monitoring.Alert {
	return s.engine.Lifecycle().Pending()
}

// GetAlertHistory returns retained alerts newest first
func (s *MonitoringService) GetAlertHistory(limit int) []monitoring.Alert {
	return s.engine.Lifecycle().History(limit)
}

// GetAlertsByMetric returns retained alerts of a metric
func (s *MonitoringService) GetAlertsByMetric(name string) []monitoring.Alert {
	return s.engine.Lifecycle().ByMetric(name)
}

// GetAlertsBySeverity returns retained alerts of a severity
func (s *MonitoringService) GetAlertsBySeverity(severity monitoring.AlertSeverity) []monitoring.Alert {
	return s.engine.Lifecycle().BySeverity(severity)
}

// GetAlert returns an alert by id
func (s *MonitoringService) GetAlert(id string) (monitoring.Alert, error) {
	alert, ok := s.engine.Lifecycle().Get(id)
	if !ok {
		return monitoring.Alert{}, fmt.Errorf("%w: %s", monitoring.ErrAlertNotFound, id)
	}
	return alert, nil
}

// ResolveAlert resolves an alert by hand
func (s *MonitoringService) ResolveAlert(id, by string) (monitoring.Alert, error) {
	if by == "" {
		by = "manual"
	}
	return s.engine.Lifecycle().Resolve(id, by)
}

// GetRules returns every rule ordered by name
func (s *MonitoringService) GetRules() []monitoring.AlertRule {
	return s.engine.GetRules()
}

// GetRule returns a rule by name
func (s *MonitoringService) GetRule(name string) (monitoring.AlertRule, error) {
	return s.engine.GetRule(name)
}

// AddRule validates and adds a rule
func (s *MonitoringService) AddRule(rule monitoring.AlertRule) error {
	return s.engine.AddRule(rule)
}

// UpdateRule replaces an existing rule
func (s *MonitoringService) UpdateRule(name string, rule monitoring.AlertRule) error {
	return s.engine.UpdateRule(name, rule)
}

// RemoveRule deletes a rule and resolves its open alerts
func (s *MonitoringService) RemoveRule(name string) error {
	return s.engine.RemoveRule(name)
}

// EnableRule turns a rule on
func (s *MonitoringService) EnableRule(name string) error {
	return s.engine.EnableRule(name)
}

// DisableRule turns a rule off
func (s *MonitoringService) DisableRule(name string) error {
	return s.engine.DisableRule(name)
}

// SuppressAlert mutes a rule for d
func (s *MonitoringService) SuppressAlert(ruleName string, d time.Duration, reason string) (monitoring.Suppression, error) {
	return s.engine.Suppress(ruleName, d, reason)
}

// UnsuppressAlert lifts a suppression and reports whether one was active
func (s *MonitoringService) UnsuppressAlert(ruleName string) bool {
	return s.engine.Suppression().Unsuppress(ruleName)
}

// IsAlertSuppressed reports whether a rule is currently muted
func (s *MonitoringService) IsAlertSuppressed(ruleName string) bool {
	return s.engine.Suppression().IsSuppressed(ruleName)
}

// GetSuppression returns the active suppression of a rule
func (s *MonitoringService) GetSuppression(ruleName string) (monitoring.Suppression, bool) {
	for _, sup := range s.engine.Suppression().List() {
		if sup.RuleName == ruleName {
			return sup, true
		}
	}
	return monitoring.Suppression{}, false
}

// ListSuppressions returns active suppressions ordered by expiry
func (s *MonitoringService) ListSuppressions() []monitoring.Suppression {
	return s.engine.Suppression().List()
}

// Statistics summarizes alerting and collection over a time range
type Statistics struct {
	monitoring.AlertStatistics
	SamplesStored       uint64 `json:"samples_stored"`
	Series              int    `json:"series"`
	RetainedSamples     int    `json:"retained_samples"`
	CollectorFailures   uint64 `json:"collector_failures"`
	SkippedCycles       uint64 `json:"skipped_cycles"`
	EscalationsExecuted int64  `json:"escalations_executed"`
}

// GetStatistics summarizes alerts first seen in the last timeRange along with
// collection counters. A non-positive range covers everything retained.
func (s *MonitoringService) GetStatistics(timeRange time.Duration) Statistics {
	var since time.Time
	if timeRange > 0 {
		since = s.clock.Now().Add(-timeRange)
	}

	series, retained, stored := s.store.Counts()
	return Statistics{
		AlertStatistics:     s.engine.Lifecycle().Statistics(since),
		SamplesStored:       stored,
		Series:              series,
		RetainedSamples:     retained,
		CollectorFailures:   s.registry.Failures(),
		SkippedCycles:       s.registry.SkippedCycles(),
		EscalationsExecuted: s.engine.Escalation().Executed(),
	}
}

// GetStatus returns the current status of the monitoring service
func (s *MonitoringService) GetStatus() map[string]interface{} {
	s.mu.RLock()
	running := s.running
	startedAt := s.startedAt
	s.mu.RUnlock()

	series, retained, _ := s.store.Counts()
	status := map[string]interface{}{
		"running":    running,
		"enabled":    s.config.Enabled,
		"started_at": startedAt,
		"collectors": s.registry.Names(),
		"series":     series,
		"samples":    retained,
		"alerting":   s.engine.GetStatus(),
		"aggregator": s.aggregator.GetStatus(),
		"notify":     s.dispatcher.GetStats(),
	}

	if cycle, ok := s.registry.LastCycle(); ok {
		status["last_collection"] = cycle.StartedAt
		status["last_collection_failed"] = cycle.Failed
	}
	s.lastMu.RLock()
	if !s.lastCleanup.IsZero() {
		status["last_cleanup"] = s.lastCleanup
	}
	s.lastMu.RUnlock()

	return status
}

// Health runs every component health check
func (s *MonitoringService) Health(ctx context.Context) metrics.HealthReport {
	return s.health.Check(ctx)
}
