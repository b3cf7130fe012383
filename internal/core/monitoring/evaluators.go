package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
)

// Evaluator defaults
const (
	DefaultTrendWindow        = 30 * time.Minute
	DefaultSlopeThreshold     = 0.05
	DefaultStabilityThreshold = 0.02
	DefaultRateWindow         = 60 * time.Second
	DefaultAnomalyLookback    = 24 * time.Hour
	DefaultCriticalZ          = 2.0
	MinAnomalySamples         = 5
)

// Trend directions
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

var criticalZ = map[float64]float64{
	0.90:  1.645,
	0.95:  1.96,
	0.99:  2.576,
	0.999: 3.291,
}

// HistoryLookup returns the stored samples of a metric at or after since
type HistoryLookup interface {
	Query(name string, since time.Time) []metrics.Sample
}

// EvalContext carries what an evaluator may consult besides the rule and sample
type EvalContext struct {
	Now        time.Time
	History    HistoryLookup
	Predicates *PredicateRegistry
}

// Evaluator decides whether a rule's condition holds for a sample
type Evaluator interface {
	Evaluate(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error)

// Evaluate calls f
func (f EvaluatorFunc) Evaluate(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error) {
	return f(rule, sample, ec)
}

// DefaultEvaluators returns the built-in evaluators keyed by condition
func DefaultEvaluators() map[ConditionType]Evaluator {
	return map[ConditionType]Evaluator{
		ConditionThreshold: EvaluatorFunc(evaluateThreshold),
		ConditionTrend:     EvaluatorFunc(evaluateTrend),
		ConditionRate:      EvaluatorFunc(evaluateRate),
		ConditionAnomaly:   EvaluatorFunc(evaluateAnomaly),
		ConditionCustom:    EvaluatorFunc(evaluateCustom),
	}
}

type operator func(value, threshold float64) bool

func parseOperator(op string) (operator, error) {
	switch op {
	case ">", "gt":
		return func(v, t float64) bool { return v > t }, nil
	case ">=", "gte":
		return func(v, t float64) bool { return v >= t }, nil
	case "<", "lt":
		return func(v, t float64) bool { return v < t }, nil
	case "<=", "lte":
		return func(v, t float64) bool { return v <= t }, nil
	case "==", "eq":
		return func(v, t float64) bool { return v == t }, nil
	case "!=", "neq", "ne":
		return func(v, t float64) bool { return v != t }, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

func evaluateThreshold(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error) {
	threshold, err := paramFloat(rule.Params, "threshold")
	if err != nil {
		return false, err
	}
	op, err := parseOperator(paramString(rule.Params, "operator", "op"))
	if err != nil {
		return false, err
	}
	return op(sample.Value.Extract(rule.ValueKey), threshold), nil
}

// TrendSlope returns the mean-normalized least-squares slope of values
func TrendSlope(values []float64) float64 {
	return analytics.NormalizedSlope(values)
}

// ClassifyTrend names the direction of a normalized slope. Slopes between the
// stability and slope thresholds have no classification.
func ClassifyTrend(slope, slopeThreshold, stabilityThreshold float64) string {
	switch {
	case slope > slopeThreshold:
		return TrendIncreasing
	case slope < -slopeThreshold:
		return TrendDecreasing
	case slope < stabilityThreshold && slope > -stabilityThreshold:
		return TrendStable
	default:
		return ""
	}
}

func evaluateTrend(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error) {
	window := rule.Duration()
	if window <= 0 {
		window = DefaultTrendWindow
	}
	history := ec.History.Query(sample.Name, ec.Now.Add(-window))
	if len(history) < 2 {
		return false, nil
	}

	slopeThreshold := paramFloatDefault(rule.Params, "slopeThreshold", DefaultSlopeThreshold)
	stabilityThreshold := paramFloatDefault(rule.Params, "stabilityThreshold", DefaultStabilityThreshold)
	direction := paramString(rule.Params, "direction")
	if direction == "" {
		direction = TrendIncreasing
	}

	slope := TrendSlope(metrics.Scalars(history, rule.ValueKey))
	return ClassifyTrend(slope, slopeThreshold, stabilityThreshold) == direction, nil
}

func evaluateRate(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error) {
	rateThreshold, err := paramFloat(rule.Params, "rateThreshold")
	if err != nil {
		return false, err
	}
	window := DefaultRateWindow
	if ms := paramFloatDefault(rule.Params, "timeWindowMs", 0); ms > 0 {
		window = time.Duration(ms) * time.Millisecond
	}

	count := len(ec.History.Query(sample.Name, ec.Now.Add(-window)))
	rate := float64(count) / window.Seconds()
	return rate > rateThreshold, nil
}

// CriticalZ maps a sensitivity to the z-score a value must exceed
func CriticalZ(sensitivity float64) float64 {
	if z, ok := criticalZ[sensitivity]; ok {
		return z
	}
	return DefaultCriticalZ
}

// AnomalyScore compares value against the population statistics of history.
// ok is false when history holds fewer than MinAnomalySamples values.
func AnomalyScore(value float64, history []float64) (z float64, ok bool) {
	if len(history) < MinAnomalySamples {
		return 0, false
	}
	return analytics.ZScore(value, analytics.Mean(history), analytics.StdDev(history)), true
}

func evaluateAnomaly(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error) {
	lookback := DefaultAnomalyLookback
	if ms := paramFloatDefault(rule.Params, "lookbackMs", 0); ms > 0 {
		lookback = time.Duration(ms) * time.Millisecond
	}

	samples := ec.History.Query(sample.Name, ec.Now.Add(-lookback))
	history := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Seq == sample.Seq && sample.Seq != 0 {
			continue
		}
		history = append(history, s.Value.Extract(rule.ValueKey))
	}

	z, ok := AnomalyScore(sample.Value.Extract(rule.ValueKey), history)
	if !ok {
		return false, nil
	}
	return z > CriticalZ(paramFloatDefault(rule.Params, "sensitivity", 0)), nil
}

func evaluateCustom(rule *AlertRule, sample metrics.Sample, ec EvalContext) (bool, error) {
	predicate := rule.Predicate
	if predicate == nil {
		name := paramString(rule.Params, "predicate")
		if ec.Predicates == nil {
			return false, fmt.Errorf("no predicate registry for %q", name)
		}
		var ok bool
		predicate, ok = ec.Predicates.Get(name)
		if !ok {
			return false, fmt.Errorf("predicate %q is not registered", name)
		}
	}
	return predicate(sample.Value.Extract(rule.ValueKey), sample)
}

// PredicateRegistry holds named custom predicates referenced from rule files
type PredicateRegistry struct {
	mu         sync.RWMutex
	predicates map[string]CustomPredicate
}

// NewPredicateRegistry creates an empty registry
func NewPredicateRegistry() *PredicateRegistry {
	return &PredicateRegistry{predicates: make(map[string]CustomPredicate)}
}

// Register adds or replaces a named predicate
func (r *PredicateRegistry) Register(name string, predicate CustomPredicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = predicate
}

// Get looks up a predicate
func (r *PredicateRegistry) Get(name string) (CustomPredicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[name]
	return p, ok
}

func paramFloat(params map[string]interface{}, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %s", key)
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %s is not a number: %w", key, err)
	}
	return f, nil
}

func paramFloatDefault(params map[string]interface{}, key string, def float64) float64 {
	f, err := paramFloat(params, key)
	if err != nil {
		return def
	}
	return f
}

func paramString(params map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if raw, ok := params[key]; ok {
			return cast.ToString(raw)
		}
	}
	return ""
}
