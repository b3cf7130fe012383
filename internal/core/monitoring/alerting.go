package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
)

// AlertingConfig contains alerting engine configuration
type AlertingConfig struct {
	AlertRetention     time.Duration
	EscalationPolicies []EscalationPolicy
}

type ruleEntry struct {
	rule    *AlertRule
	matcher *patternMatcher
}

// AlertingEngine evaluates rules against every stored sample and owns the alert
// lifecycle, escalation and suppression state.
type AlertingEngine struct {
	mu         sync.RWMutex
	rules      map[string]*ruleEntry
	evaluators map[ConditionType]Evaluator
	predicates *PredicateRegistry

	history     HistoryLookup
	lifecycle   *LifecycleManager
	escalation  *EscalationScheduler
	suppression *SuppressionRegistry
	actions     *ActionExecutor

	clock   clock.Clock
	logger  *logrus.Logger
	metrics *metrics.EngineMetrics

	evaluations atomic.Uint64
	evalErrors  atomic.Uint64
	suppressed  atomic.Uint64
}

// NewAlertingEngine wires the rule table, evaluators, lifecycle manager, escalation
// scheduler and suppression registry
func NewAlertingEngine(config AlertingConfig, history HistoryLookup, notifier Notifier, auditor Auditor, clk clock.Clock, logger *logrus.Logger) (*AlertingEngine, error) {
	if clk == nil {
		clk = clock.Real()
	}
	policies := config.EscalationPolicies
	if policies == nil {
		policies = DefaultEscalationPolicies()
	}

	escalation, err := NewEscalationScheduler(policies, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create escalation scheduler: %w", err)
	}

	actions := NewActionExecutor(notifier, auditor, logger)
	actions.SetEscalator(escalation)
	suppression := NewSuppressionRegistry(clk, logger)
	lifecycle := NewLifecycleManager(actions, config.AlertRetention, clk, logger)
	escalation.bind(lifecycle, actions, suppression)

	e := &AlertingEngine{
		rules:       make(map[string]*ruleEntry),
		evaluators:  DefaultEvaluators(),
		predicates:  NewPredicateRegistry(),
		history:     history,
		lifecycle:   lifecycle,
		escalation:  escalation,
		suppression: suppression,
		actions:     actions,
		clock:       clk,
		logger:      logger,
	}

	lifecycle.AddListener(func(event AlertEvent) {
		if event.Type == EventResolved {
			escalation.Cancel(event.Alert.ID)
		}
	})
	return e, nil
}

// SetMetrics attaches the engine's Prometheus instruments to every component
func (e *AlertingEngine) SetMetrics(m *metrics.EngineMetrics) {
	e.metrics = m
	e.lifecycle.SetMetrics(m)
	e.escalation.SetMetrics(m)
	e.actions.SetMetrics(m)
}

// Start runs the escalation scheduler until ctx ends or Stop is called
func (e *AlertingEngine) Start(ctx context.Context) {
	e.escalation.Start(ctx)
	e.logger.Info("Alerting engine started")
}

// Stop halts the escalation scheduler
func (e *AlertingEngine) Stop() {
	e.escalation.Stop()
	e.logger.Info("Alerting engine stopped")
}

// Lifecycle exposes the alert table
func (e *AlertingEngine) Lifecycle() *LifecycleManager { return e.lifecycle }

// Escalation exposes the escalation scheduler
func (e *AlertingEngine) Escalation() *EscalationScheduler { return e.escalation }

// Suppression exposes the suppression registry
func (e *AlertingEngine) Suppression() *SuppressionRegistry { return e.suppression }

// Actions exposes the action executor, e.g. to register block or incident integrations
func (e *AlertingEngine) Actions() *ActionExecutor { return e.actions }

// Predicates exposes the named predicate registry for custom rules
func (e *AlertingEngine) Predicates() *PredicateRegistry { return e.predicates }

// SetEvaluator replaces the evaluator of a condition type
func (e *AlertingEngine) SetEvaluator(condition ConditionType, evaluator Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[condition] = evaluator
}

// OnSample evaluates every enabled rule matching the sample and applies the verdicts.
// It runs synchronously on the goroutine that stored the sample.
func (e *AlertingEngine) OnSample(sample metrics.Sample) {
	e.mu.RLock()
	var matched []*AlertRule
	for _, entry := range e.rules {
		if entry.rule.Enabled && entry.matcher.Match(sample.Name) {
			matched = append(matched, entry.rule)
		}
	}
	e.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	for _, rule := range matched {
		if e.suppression.IsSuppressed(rule.Name) {
			e.suppressed.Add(1)
			continue
		}
		condition := e.evaluate(rule, sample)
		e.lifecycle.Process(rule, sample, condition)
	}
}

// evaluate runs the rule's evaluator; any error or panic counts as a false condition
func (e *AlertingEngine) evaluate(rule *AlertRule, sample metrics.Sample) (result bool) {
	e.evaluations.Add(1)
	logger := e.logger.WithFields(logrus.Fields{
		"rule":   rule.Name,
		"metric": sample.Name,
	})

	defer func() {
		if r := recover(); r != nil {
			e.evaluationFailed(rule)
			logger.Errorf("Rule evaluator panicked: %v", r)
			result = false
		}
	}()

	e.mu.RLock()
	evaluator, ok := e.evaluators[rule.Condition]
	e.mu.RUnlock()
	if !ok {
		e.evaluationFailed(rule)
		logger.WithField("condition", rule.Condition).Error("No evaluator for condition")
		return false
	}

	ok, err := evaluator.Evaluate(rule, sample, EvalContext{
		Now:        e.clock.Now(),
		History:    e.history,
		Predicates: e.predicates,
	})
	if err != nil {
		e.evaluationFailed(rule)
		logger.WithError(err).Error("Rule evaluation failed")
		return false
	}
	return ok
}

func (e *AlertingEngine) evaluationFailed(rule *AlertRule) {
	e.evalErrors.Add(1)
	if e.metrics != nil {
		e.metrics.EvaluatorErrors.WithLabelValues(rule.Name).Inc()
	}
}

// AddRule validates and adds a rule
func (e *AlertingEngine) AddRule(rule AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	matcher, err := compilePattern(rule.MetricPattern)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.Name]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.Name)
	}

	now := e.clock.Now()
	stored := rule.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	e.rules[rule.Name] = &ruleEntry{rule: stored, matcher: matcher}

	e.logger.WithFields(logrus.Fields{
		"rule":      rule.Name,
		"condition": rule.Condition,
		"pattern":   rule.MetricPattern,
	}).Info("Alert rule added")
	return nil
}

// UpdateRule replaces the definition of an existing rule. The name cannot change.
func (e *AlertingEngine) UpdateRule(name string, rule AlertRule) error {
	if rule.Name == "" {
		rule.Name = name
	}
	if rule.Name != name {
		return fmt.Errorf("%w: rule name cannot change from %s to %s", ErrInvalidRule, name, rule.Name)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	matcher, err := compilePattern(rule.MetricPattern)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	e.mu.Lock()
	existing, ok := e.rules[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	stored := rule.Clone()
	stored.CreatedAt = existing.rule.CreatedAt
	stored.UpdatedAt = e.clock.Now()
	e.rules[name] = &ruleEntry{rule: stored, matcher: matcher}
	e.mu.Unlock()

	e.logger.WithField("rule", name).Info("Alert rule updated")
	if !stored.Enabled {
		e.lifecycle.ResolveRule(name, "rule_disabled")
		return nil
	}
	// alerts on metrics the new pattern drops would never be evaluated again
	if n := e.lifecycle.ResolveUnmatched(name, "rule_updated", matcher.Match); n > 0 {
		e.logger.WithFields(logrus.Fields{
			"rule":            name,
			"resolved_alerts": n,
		}).Info("Resolved alerts no longer matched by rule")
	}
	return nil
}

// RemoveRule deletes a rule and resolves its open alerts
func (e *AlertingEngine) RemoveRule(name string) error {
	e.mu.Lock()
	if _, ok := e.rules[name]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	delete(e.rules, name)
	e.mu.Unlock()

	resolved := e.lifecycle.ResolveRule(name, "rule_removed")
	e.logger.WithFields(logrus.Fields{
		"rule":            name,
		"resolved_alerts": resolved,
	}).Info("Alert rule removed")
	return nil
}

// EnableRule turns a rule on
func (e *AlertingEngine) EnableRule(name string) error {
	return e.setEnabled(name, true)
}

// DisableRule turns a rule off and resolves its open alerts
func (e *AlertingEngine) DisableRule(name string) error {
	if err := e.setEnabled(name, false); err != nil {
		return err
	}
	e.lifecycle.ResolveRule(name, "rule_disabled")
	return nil
}

func (e *AlertingEngine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.rules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	if entry.rule.Enabled == enabled {
		return nil
	}
	updated := entry.rule.Clone()
	updated.Enabled = enabled
	updated.UpdatedAt = e.clock.Now()
	e.rules[name] = &ruleEntry{rule: updated, matcher: entry.matcher}

	e.logger.WithFields(logrus.Fields{
		"rule":    name,
		"enabled": enabled,
	}).Info("Alert rule toggled")
	return nil
}

// GetRule returns a copy of a rule
func (e *AlertingEngine) GetRule(name string) (AlertRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.rules[name]
	if !ok {
		return AlertRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	return *entry.rule.Clone(), nil
}

// GetRules returns copies of every rule ordered by name
func (e *AlertingEngine) GetRules() []AlertRule {
	e.mu.RLock()
	rules := make([]AlertRule, 0, len(e.rules))
	for _, entry := range e.rules {
		rules = append(rules, *entry.rule.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// RuleCounts returns the number of enabled and total rules
func (e *AlertingEngine) RuleCounts() (enabled, total int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, entry := range e.rules {
		if entry.rule.Enabled {
			enabled++
		}
	}
	return enabled, len(e.rules)
}

// Suppress mutes a rule for d
func (e *AlertingEngine) Suppress(ruleName string, d time.Duration, reason string) (Suppression, error) {
	e.mu.RLock()
	_, ok := e.rules[ruleName]
	e.mu.RUnlock()
	if !ok {
		return Suppression{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleName)
	}
	return e.suppression.Suppress(ruleName, d, reason)
}

// GetStatus returns engine counters
func (e *AlertingEngine) GetStatus() map[string]interface{} {
	enabled, total := e.RuleCounts()
	pending, active, tracked := e.lifecycle.Counts()
	return map[string]interface{}{
		"rules_total":       total,
		"rules_enabled":     enabled,
		"alerts_pending":    pending,
		"alerts_active":     active,
		"alerts_tracked":    tracked,
		"suppressions":      len(e.suppression.List()),
		"evaluations":       e.evaluations.Load(),
		"evaluation_errors": e.evalErrors.Load(),
		"suppressed_skips":  e.suppressed.Load(),
		"escalation":        e.escalation.GetStats(),
	}
}
