package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes notifications and audit entries to the process logger.
// It is the delivery channel used when no external sink is configured.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a logging sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send logs the notification
func (s *LogSink) Send(ctx context.Context, n Notification) error {
	entry := s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"kind":            n.Kind,
		"channel":         n.Channel,
		"severity":        n.Severity,
	})
	switch n.Severity {
	case "critical", "high":
		entry.Warn(n.Title)
	default:
		entry.Info(n.Title)
	}
	return nil
}

// Log writes an audit entry
func (s *LogSink) Log(ctx context.Context, kind string, details map[string]interface{}) error {
	s.logger.WithFields(logrus.Fields(details)).WithField("audit_kind", kind).Info("Audit event")
	return nil
}
