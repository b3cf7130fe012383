package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
)

// DefaultAlertRetention is how long resolved alerts stay in history
const DefaultAlertRetention = 7 * 24 * time.Hour

// LifecycleManager turns condition verdicts into alert state transitions.
// At most one non-resolved alert exists per (rule, metric) key.
type LifecycleManager struct {
	mu        sync.RWMutex
	open      map[string]*Alert
	alerts    map[string]*Alert
	retention time.Duration

	actions *ActionExecutor
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *metrics.EngineMetrics

	lmu       sync.RWMutex
	listeners []AlertListener
}

// NewLifecycleManager creates an empty alert table
func NewLifecycleManager(actions *ActionExecutor, retention time.Duration, clk clock.Clock, logger *logrus.Logger) *LifecycleManager {
	if retention <= 0 {
		retention = DefaultAlertRetention
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &LifecycleManager{
		open:      make(map[string]*Alert),
		alerts:    make(map[string]*Alert),
		retention: retention,
		actions:   actions,
		clock:     clk,
		logger:    logger,
	}
}

// SetMetrics attaches the engine's Prometheus instruments
func (m *LifecycleManager) SetMetrics(em *metrics.EngineMetrics) {
	m.metrics = em
}

// AddListener registers a callback for lifecycle events
func (m *LifecycleManager) AddListener(listener AlertListener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Process applies one evaluation of rule against sample. It returns the alert that was
// touched, if any, and the transition that happened ("" when the state did not change).
func (m *LifecycleManager) Process(rule *AlertRule, sample metrics.Sample, condition bool) (Alert, AlertEventType, bool) {
	now := m.clock.Now()
	key := alertKey(rule.Name, sample.Name)

	m.mu.Lock()
	alert, exists := m.open[key]

	var (
		event   AlertEventType
		actions []string
	)

	switch {
	case condition && !exists:
		alert = &Alert{
			ID:              uuid.New().String(),
			RuleName:        rule.Name,
			MetricName:      sample.Name,
			State:           StatePending,
			Severity:        rule.Severity,
			Description:     rule.Description,
			FirstOccurrence: now,
			LastOccurrence:  now,
			OccurrenceCount: 1,
			Value:           sample.Value,
			Threshold:       ruleThreshold(rule),
		}
		m.open[key] = alert
		m.alerts[alert.ID] = alert
		event = EventPending
		if rule.Duration() <= 0 {
			activate(alert, rule, sample, now)
			event = EventActivated
			actions = rule.Actions
		}

	case condition && exists:
		alert.LastOccurrence = now
		alert.OccurrenceCount++
		if alert.State == StatePending && now.Sub(alert.FirstOccurrence) >= rule.Duration() {
			activate(alert, rule, sample, now)
			event = EventActivated
			actions = rule.Actions
		}

	case !condition && exists:
		resolve(alert, now, "")
		delete(m.open, key)
		event = EventResolved
		actions = ResolutionActions

	default:
		m.mu.Unlock()
		return Alert{}, "", false
	}

	snapshot := *alert
	m.mu.Unlock()

	if event != "" {
		m.transitioned(event, snapshot, rule, actions)
	}
	return snapshot, event, true
}

func activate(alert *Alert, rule *AlertRule, sample metrics.Sample, now time.Time) {
	activatedAt := now
	alert.State = StateActive
	alert.Severity = rule.Severity
	alert.Description = rule.Description
	alert.Value = sample.Value
	alert.Threshold = ruleThreshold(rule)
	alert.EscalationLevel = 0
	alert.ActivatedAt = &activatedAt
}

func resolve(alert *Alert, now time.Time, by string) {
	resolvedAt := now
	alert.State = StateResolved
	alert.ResolvedAt = &resolvedAt
	alert.ResolvedBy = by
	alert.DurationMs = now.Sub(alert.FirstOccurrence).Milliseconds()
	if alert.DurationMs < 0 {
		alert.DurationMs = 0
	}
}

func ruleThreshold(rule *AlertRule) interface{} {
	switch rule.Condition {
	case ConditionThreshold:
		return rule.Params["threshold"]
	case ConditionRate:
		return rule.Params["rateThreshold"]
	case ConditionAnomaly:
		return CriticalZ(paramFloatDefault(rule.Params, "sensitivity", 0))
	case ConditionTrend:
		direction := paramString(rule.Params, "direction")
		if direction == "" {
			direction = TrendIncreasing
		}
		return direction
	default:
		return nil
	}
}

func (m *LifecycleManager) transitioned(event AlertEventType, alert Alert, rule *AlertRule, actions []string) {
	fields := logrus.Fields{
		"alert_id": alert.ID,
		"rule":     alert.RuleName,
		"metric":   alert.MetricName,
		"severity": alert.Severity,
		"value":    alert.Value.String(),
	}
	switch event {
	case EventActivated:
		m.logger.WithFields(fields).Warn("Alert activated")
	case EventResolved:
		fields["duration_ms"] = alert.DurationMs
		if alert.ResolvedBy != "" {
			fields["resolved_by"] = alert.ResolvedBy
		}
		m.logger.WithFields(fields).Info("Alert resolved")
	default:
		m.logger.WithFields(fields).Debug("Alert pending")
	}

	if m.metrics != nil {
		m.metrics.AlertsTotal.WithLabelValues(string(alert.Severity), string(event)).Inc()
	}
	m.updateGauges()

	if len(actions) > 0 && m.actions != nil {
		m.actions.Execute(context.Background(), actions, alert, rule)
	}
	m.emit(AlertEvent{Type: event, Alert: alert, Timestamp: m.clock.Now()})
}

func (m *LifecycleManager) emit(event AlertEvent) {
	m.lmu.RLock()
	listeners := m.listeners
	m.lmu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithField("event", event.Type).Errorf("Alert listener panicked: %v", r)
				}
			}()
			listener(event)
		}()
	}
}

func (m *LifecycleManager) updateGauges() {
	if m.metrics == nil {
		return
	}
	counts := m.countByState()
	for _, state := range []AlertState{StatePending, StateActive, StateResolved} {
		m.metrics.AlertsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (m *LifecycleManager) countByState() map[AlertState]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[AlertState]int, 3)
	for _, a := range m.alerts {
		counts[a.State]++
	}
	return counts
}

// Resolve resolves an alert by hand and runs the resolution actions
func (m *LifecycleManager) Resolve(id, by string) (Alert, error) {
	now := m.clock.Now()

	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if alert.State == StateResolved {
		m.mu.Unlock()
		return *alert, fmt.Errorf("%w: %s", ErrAlertResolved, id)
	}
	resolve(alert, now, by)
	delete(m.open, alert.Key())
	snapshot := *alert
	m.mu.Unlock()

	m.transitioned(EventResolved, snapshot, nil, ResolutionActions)
	return snapshot, nil
}

// ResolveRule resolves every open alert of a rule and returns how many were resolved
func (m *LifecycleManager) ResolveRule(ruleName, by string) int {
	return m.resolveWhere(ruleName, by, func(string) bool { return true })
}

// ResolveUnmatched resolves the open alerts of a rule whose metric no longer matches
func (m *LifecycleManager) ResolveUnmatched(ruleName, by string, matches func(metric string) bool) int {
	return m.resolveWhere(ruleName, by, func(metric string) bool { return !matches(metric) })
}

func (m *LifecycleManager) resolveWhere(ruleName, by string, selected func(metric string) bool) int {
	now := m.clock.Now()

	m.mu.Lock()
	var resolved []Alert
	for key, alert := range m.open {
		if alert.RuleName != ruleName || !selected(alert.MetricName) {
			continue
		}
		resolve(alert, now, by)
		delete(m.open, key)
		resolved = append(resolved, *alert)
	}
	m.mu.Unlock()

	for _, alert := range resolved {
		m.transitioned(EventResolved, alert, nil, ResolutionActions)
	}
	return len(resolved)
}

// RecordEscalation advances the escalation level of an active alert. It fails when the
// alert is gone, no longer active, or already past level.
func (m *LifecycleManager) RecordEscalation(id string, level int, at time.Time) (Alert, bool) {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.State != StateActive || alert.EscalationLevel != level {
		m.mu.Unlock()
		return Alert{}, false
	}
	escalatedAt := at
	alert.EscalationLevel = level + 1
	alert.LastEscalationTime = &escalatedAt
	snapshot := *alert
	m.mu.Unlock()

	m.emit(AlertEvent{Type: EventEscalated, Alert: snapshot, Timestamp: at})
	return snapshot, true
}

// Purge removes resolved alerts older than the retention period
func (m *LifecycleManager) Purge() int {
	cutoff := m.clock.Now().Add(-m.retention)

	m.mu.Lock()
	removed := 0
	for id, alert := range m.alerts {
		if alert.State == StateResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.WithField("removed", removed).Info("Purged resolved alerts")
		m.updateGauges()
	}
	return removed
}

// Get returns an alert by id
func (m *LifecycleManager) Get(id string) (Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// Find returns the open alert of a (rule, metric) pair
func (m *LifecycleManager) Find(ruleName, metricName string) (Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.open[alertKey(ruleName, metricName)]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// Active returns alerts in the active state, oldest first
func (m *LifecycleManager) Active() []Alert {
	return m.filter(func(a *Alert) bool { return a.State == StateActive }, false)
}

// Pending returns alerts still inside their hysteresis duration, oldest first
func (m *LifecycleManager) Pending() []Alert {
	return m.filter(func(a *Alert) bool { return a.State == StatePending }, false)
}

// History returns retained alerts newest first. A limit <= 0 returns all of them.
func (m *LifecycleManager) History(limit int) []Alert {
	alerts := m.filter(func(a *Alert) bool { return true }, true)
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

// ByMetric returns retained alerts of a metric, newest first
func (m *LifecycleManager) ByMetric(metricName string) []Alert {
	return m.filter(func(a *Alert) bool { return a.MetricName == metricName }, true)
}

// BySeverity returns retained alerts of a severity, newest first
func (m *LifecycleManager) BySeverity(severity AlertSeverity) []Alert {
	return m.filter(func(a *Alert) bool { return a.Severity == severity }, true)
}

func (m *LifecycleManager) filter(keep func(*Alert) bool, newestFirst bool) []Alert {
	m.mu.RLock()
	out := make([]Alert, 0)
	for _, alert := range m.alerts {
		if keep(alert) {
			out = append(out, *alert)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstOccurrence.Equal(out[j].FirstOccurrence) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].FirstOccurrence.After(out[j].FirstOccurrence)
		}
		return out[i].FirstOccurrence.Before(out[j].FirstOccurrence)
	})
	return out
}

// AlertStatistics summarizes alerts first seen inside a time range
type AlertStatistics struct {
	Since             time.Time             `json:"since"`
	Total             int                   `json:"total"`
	ByState           map[AlertState]int    `json:"by_state"`
	BySeverity        map[AlertSeverity]int `json:"by_severity"`
	ByRule            map[string]int        `json:"by_rule"`
	MeanTimeToResolve int64                 `json:"mean_time_to_resolve_ms"`
	Escalations       int                   `json:"escalations"`
}

// Statistics summarizes alerts whose first occurrence is at or after since
func (m *LifecycleManager) Statistics(since time.Time) AlertStatistics {
	stats := AlertStatistics{
		Since:      since,
		ByState:    make(map[AlertState]int),
		BySeverity: make(map[AlertSeverity]int),
		ByRule:     make(map[string]int),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var resolvedCount int
	var resolvedTotal int64
	for _, alert := range m.alerts {
		if alert.FirstOccurrence.Before(since) {
			continue
		}
		stats.Total++
		stats.ByState[alert.State]++
		stats.BySeverity[alert.Severity]++
		stats.ByRule[alert.RuleName]++
		stats.Escalations += alert.EscalationLevel
		if alert.State == StateResolved {
			resolvedCount++
			resolvedTotal += alert.DurationMs
		}
	}
	if resolvedCount > 0 {
		stats.MeanTimeToResolve = resolvedTotal / int64(resolvedCount)
	}
	return stats
}

// Counts returns the number of open alerts by state
func (m *LifecycleManager) Counts() (pending, active, total int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, alert := range m.open {
		switch alert.State {
		case StatePending:
			pending++
		case StateActive:
			active++
		}
	}
	return pending, active, len(m.alerts)
}
