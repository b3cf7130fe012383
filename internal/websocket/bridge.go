package websocket

import (
	"context"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/notify"
)

// AlertForwarder returns a listener pushing alert lifecycle events to subscribed clients
func AlertForwarder(hub *Hub) monitoring.AlertListener {
	return func(event monitoring.AlertEvent) {
		hub.Broadcast(AlertEventMessage(event))
	}
}

// NotificationSink delivers dashboard notifications over the hub
type NotificationSink struct {
	hub *Hub
}

// NewNotificationSink creates a notify.Sink backed by hub
func NewNotificationSink(hub *Hub) *NotificationSink {
	return &NotificationSink{hub: hub}
}

// Send broadcasts n to clients subscribed to notifications
func (s *NotificationSink) Send(ctx context.Context, n notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.Broadcast(NotificationMessage(n))
	return nil
}

var _ notify.Sink = (*NotificationSink)(nil)
