package monitoring

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/notify"
)

// Action names
const (
	ActionNotify         = "notify"
	ActionNotifyAdmin    = "notify.admin"
	ActionNotifyEmail    = "notify.email"
	ActionNotifySMS      = "notify.sms"
	ActionNotifyAll      = "notify.all"
	ActionLog            = "log"
	ActionEscalate       = "escalate"
	ActionBlock          = "block"
	ActionCreateIncident = "create.incident"
	ActionNotifyResolved = "notify.resolution"
	ActionLogResolved    = "log.resolution"
)

// ResolutionActions run when an alert resolves
var ResolutionActions = []string{ActionNotifyResolved, ActionLogResolved}

var knownActions = map[string]bool{
	ActionNotify: true, ActionNotifyAdmin: true, ActionNotifyEmail: true, ActionNotifySMS: true,
	ActionNotifyAll: true, ActionLog: true, ActionEscalate: true, ActionBlock: true,
	ActionCreateIncident: true, ActionNotifyResolved: true, ActionLogResolved: true,
}

func isKnownAction(name string) bool {
	return knownActions[name]
}

// Notifier accepts notifications without blocking
type Notifier interface {
	Notify(n notify.Notification)
}

// Auditor accepts audit entries without blocking
type Auditor interface {
	Audit(kind string, details map[string]interface{})
}

// Escalator starts escalation for an activated alert
type Escalator interface {
	Escalate(alert Alert) bool
}

// ActionExecutor runs alert actions, isolating each one
type ActionExecutor struct {
	mu        sync.RWMutex
	handlers  map[string]ActionHandler
	notifier  Notifier
	auditor   Auditor
	escalator Escalator
	logger    *logrus.Logger
	metrics   *metrics.EngineMetrics
}

// NewActionExecutor creates an executor with the built-in action handlers
func NewActionExecutor(notifier Notifier, auditor Auditor, logger *logrus.Logger) *ActionExecutor {
	e := &ActionExecutor{
		handlers: make(map[string]ActionHandler),
		notifier: notifier,
		auditor:  auditor,
		logger:   logger,
	}

	e.handlers[ActionNotify] = e.notifyChannels(notify.ChannelDefault)
	e.handlers[ActionNotifyAdmin] = e.notifyChannels(notify.ChannelAdmin)
	e.handlers[ActionNotifyEmail] = e.notifyChannels(notify.ChannelEmail)
	e.handlers[ActionNotifySMS] = e.notifyChannels(notify.ChannelSMS)
	e.handlers[ActionNotifyAll] = e.notifyChannels(notify.ChannelAdmin, notify.ChannelEmail, notify.ChannelSMS, notify.ChannelPush)
	e.handlers[ActionLog] = e.auditAction("alert.activated")
	e.handlers[ActionEscalate] = e.escalate
	e.handlers[ActionBlock] = e.requestOnly("alert.block_requested", "Block requested")
	e.handlers[ActionCreateIncident] = e.requestOnly("incident.created", "Incident created")
	e.handlers[ActionNotifyResolved] = e.notifyResolution
	e.handlers[ActionLogResolved] = e.auditAction("alert.resolved")

	return e
}

// SetMetrics attaches the engine's Prometheus instruments
func (e *ActionExecutor) SetMetrics(m *metrics.EngineMetrics) {
	e.metrics = m
}

// SetEscalator wires the scheduler used by the escalate action
func (e *ActionExecutor) SetEscalator(escalator Escalator) {
	e.escalator = escalator
}

// RegisterHandler replaces the handler of a known action, e.g. a real block or incident integration
func (e *ActionExecutor) RegisterHandler(name string, handler ActionHandler) error {
	if !isKnownAction(name) {
		return fmt.Errorf("unknown action %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = handler
	return nil
}

// Execute runs each action in order. A failing or panicking action is logged and the
// remaining actions still run. It returns the number of failed actions.
func (e *ActionExecutor) Execute(ctx context.Context, actions []string, alert Alert, rule *AlertRule) int {
	failed := 0
	for _, action := range actions {
		if err := e.run(ctx, action, alert, rule); err != nil {
			failed++
			if e.metrics != nil {
				e.metrics.ActionsFailed.WithLabelValues(action).Inc()
			}
			e.logger.WithError(err).WithFields(logrus.Fields{
				"action":   action,
				"alert_id": alert.ID,
				"rule":     alert.RuleName,
			}).Error("Alert action failed")
		}
	}
	return failed
}

func (e *ActionExecutor) run(ctx context.Context, action string, alert Alert, rule *AlertRule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	e.mu.RLock()
	handler, ok := e.handlers[action]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}
	return handler(ctx, alert, rule)
}

func (e *ActionExecutor) notifyChannels(channels ...string) ActionHandler {
	return func(ctx context.Context, alert Alert, rule *AlertRule) error {
		if e.notifier == nil {
			return fmt.Errorf("no notifier configured")
		}
		for _, channel := range channels {
			e.notifier.Notify(alertNotification(string(EventActivated), channel, alert))
		}
		return nil
	}
}

func (e *ActionExecutor) notifyResolution(ctx context.Context, alert Alert, rule *AlertRule) error {
	if e.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}
	e.notifier.Notify(alertNotification(string(EventResolved), notify.ChannelDefault, alert))
	return nil
}

func (e *ActionExecutor) auditAction(kind string) ActionHandler {
	return func(ctx context.Context, alert Alert, rule *AlertRule) error {
		if e.auditor == nil {
			return fmt.Errorf("no audit sink configured")
		}
		e.auditor.Audit(kind, alertDetails(alert))
		return nil
	}
}

// requestOnly records the request and tells the admins when no integration is registered
func (e *ActionExecutor) requestOnly(kind, title string) ActionHandler {
	return func(ctx context.Context, alert Alert, rule *AlertRule) error {
		if e.auditor != nil {
			e.auditor.Audit(kind, alertDetails(alert))
		}
		if e.notifier != nil {
			n := alertNotification(kind, notify.ChannelAdmin, alert)
			n.Title = fmt.Sprintf("%s: %s", title, n.Title)
			e.notifier.Notify(n)
		}
		return nil
	}
}

func (e *ActionExecutor) escalate(ctx context.Context, alert Alert, rule *AlertRule) error {
	if e.escalator == nil {
		return fmt.Errorf("no escalation scheduler configured")
	}
	if !e.escalator.Escalate(alert) {
		e.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"severity": alert.Severity,
		}).Debug("No escalation policy for alert severity")
	}
	return nil
}

func alertNotification(kind, channel string, alert Alert) notify.Notification {
	title := fmt.Sprintf("[%s] %s on %s", strings.ToUpper(string(alert.Severity)), alert.RuleName, alert.MetricName)
	message := alert.Description
	if message == "" {
		message = title
	}
	message = fmt.Sprintf("%s (value %s)", message, alert.Value.String())
	if kind == string(EventResolved) {
		title = "Resolved: " + title
	}

	return notify.Notification{
		Kind:     kind,
		Channel:  channel,
		Severity: string(alert.Severity),
		Title:    title,
		Message:  message,
		Data:     alertDetails(alert),
	}
}

func alertDetails(alert Alert) map[string]interface{} {
	details := map[string]interface{}{
		"alert_id":         alert.ID,
		"rule":             alert.RuleName,
		"metric":           alert.MetricName,
		"state":            string(alert.State),
		"severity":         string(alert.Severity),
		"value":            alert.Value.String(),
		"occurrence_count": alert.OccurrenceCount,
		"escalation_level": alert.EscalationLevel,
		"first_occurrence": alert.FirstOccurrence,
	}
	if alert.Threshold != nil {
		details["threshold"] = alert.Threshold
	}
	if alert.ResolvedAt != nil {
		details["resolved_at"] = *alert.ResolvedAt
		details["duration_ms"] = alert.DurationMs
	}
	return details
}
