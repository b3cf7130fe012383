package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
)

// Sentinel errors
var (
	ErrRuleNotFound  = errors.New("rule not found")
	ErrRuleExists    = errors.New("rule already exists")
	ErrInvalidRule   = errors.New("invalid rule")
	ErrAlertNotFound = errors.New("alert not found")
	ErrAlertResolved = errors.New("alert already resolved")
)

// AlertSeverity represents alert severity levels
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
	SeverityLow      AlertSeverity = "low"
	SeverityInfo     AlertSeverity = "info"
)

// Valid reports whether s is a known severity
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// AlertState represents the lifecycle state of an alert
type AlertState string

const (
	StatePending  AlertState = "pending"
	StateActive   AlertState = "active"
	StateResolved AlertState = "resolved"
)

// ConditionType selects the evaluator of a rule
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionTrend     ConditionType = "trend"
	ConditionRate      ConditionType = "rate"
	ConditionAnomaly   ConditionType = "anomaly"
	ConditionCustom    ConditionType = "custom"
)

// CustomPredicate decides a custom condition from the extracted value and the full sample
type CustomPredicate func(value float64, sample metrics.Sample) (bool, error)

// AlertRule binds a condition to the metrics matching a pattern
type AlertRule struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	MetricPattern string                 `json:"metric_pattern"`
	Condition     ConditionType          `json:"condition"`
	Params        map[string]interface{} `json:"params,omitempty"`
	ValueKey      string                 `json:"value_key,omitempty"`
	DurationMs    int64                  `json:"duration_ms"`
	Severity      AlertSeverity          `json:"severity"`
	Actions       []string               `json:"actions"`
	Enabled       bool                   `json:"enabled"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`

	// Predicate takes precedence over params.predicate for custom rules
	Predicate CustomPredicate `json:"-"`
}

// Duration is the hysteresis duration of the rule
func (r *AlertRule) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// HasAction reports whether the rule lists the named action
func (r *AlertRule) HasAction(name string) bool {
	for _, a := range r.Actions {
		if a == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the rule
func (r *AlertRule) Clone() *AlertRule {
	cp := *r
	if r.Params != nil {
		cp.Params = make(map[string]interface{}, len(r.Params))
		for k, v := range r.Params {
			cp.Params[k] = v
		}
	}
	cp.Actions = append([]string(nil), r.Actions...)
	return &cp
}

// Validate checks the rule definition, including the parameters its condition needs
func (r *AlertRule) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if r.MetricPattern == "" {
		errs = append(errs, fmt.Errorf("metric_pattern is required"))
	} else if _, err := compilePattern(r.MetricPattern); err != nil {
		errs = append(errs, err)
	}
	if r.DurationMs < 0 {
		errs = append(errs, fmt.Errorf("duration_ms must not be negative"))
	}
	if !r.Severity.Valid() {
		errs = append(errs, fmt.Errorf("unknown severity %q", r.Severity))
	}
	for _, action := range r.Actions {
		if !isKnownAction(action) {
			errs = append(errs, fmt.Errorf("unknown action %q", action))
		}
	}

	switch r.Condition {
	case ConditionThreshold:
		if _, err := paramFloat(r.Params, "threshold"); err != nil {
			errs = append(errs, err)
		}
		if _, err := parseOperator(paramString(r.Params, "operator", "op")); err != nil {
			errs = append(errs, err)
		}
	case ConditionTrend:
		switch paramString(r.Params, "direction") {
		case "", TrendIncreasing, TrendDecreasing, TrendStable:
		default:
			errs = append(errs, fmt.Errorf("unknown trend direction %q", paramString(r.Params, "direction")))
		}
	case ConditionRate:
		if _, err := paramFloat(r.Params, "rateThreshold"); err != nil {
			errs = append(errs, err)
		}
	case ConditionAnomaly:
	case ConditionCustom:
		if r.Predicate == nil && paramString(r.Params, "predicate") == "" {
			errs = append(errs, fmt.Errorf("custom rule needs a predicate"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown condition %q", r.Condition))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %s: %v", ErrInvalidRule, r.Name, errors.Join(errs...))
	}
	return nil
}

// Alert is the tracked state of one (rule, metric) condition
type Alert struct {
	ID                 string        `json:"id"`
	RuleName           string        `json:"rule_name"`
	MetricName         string        `json:"metric_name"`
	State              AlertState    `json:"state"`
	Severity           AlertSeverity `json:"severity"`
	Description        string        `json:"description"`
	FirstOccurrence    time.Time     `json:"first_occurrence"`
	LastOccurrence     time.Time     `json:"last_occurrence"`
	OccurrenceCount    int           `json:"occurrence_count"`
	Value              metrics.Value `json:"value"`
	Threshold          interface{}   `json:"threshold,omitempty"`
	ActivatedAt        *time.Time    `json:"activated_at,omitempty"`
	EscalationLevel    int           `json:"escalation_level"`
	LastEscalationTime *time.Time    `json:"last_escalation_time,omitempty"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
	DurationMs         int64         `json:"duration_ms"`
	ResolvedBy         string        `json:"resolved_by,omitempty"`
}

// Key identifies the (rule, metric) pair the alert tracks
func (a *Alert) Key() string {
	return alertKey(a.RuleName, a.MetricName)
}

func alertKey(ruleName, metricName string) string {
	return ruleName + "|" + metricName
}

// AlertEventType names a lifecycle transition
type AlertEventType string

const (
	EventPending   AlertEventType = "alert.pending"
	EventActivated AlertEventType = "alert.activated"
	EventResolved  AlertEventType = "alert.resolved"
	EventEscalated AlertEventType = "alert.escalated"
)

// AlertEvent describes a transition of an alert
type AlertEvent struct {
	Type      AlertEventType `json:"type"`
	Alert     Alert          `json:"alert"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertListener receives lifecycle events
type AlertListener func(AlertEvent)

// ActionHandler executes a named alert action
type ActionHandler func(ctx context.Context, alert Alert, rule *AlertRule) error
