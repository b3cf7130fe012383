package websocket

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/notify"
)

// Message types for WebSocket communication
const (
	MessageTypeConnection   = "connection"
	MessageTypeHeartbeat    = "heartbeat"
	MessageTypePong         = "pong"
	MessageTypeAlertEvent   = "alert_event"
	MessageTypeNotification = "notification"
	MessageTypeSystemStatus = "system_status"

	// Client subscription management
	MessageTypeSubscribe          = "subscribe"
	MessageTypeUnsubscribe        = "unsubscribe"
	MessageTypeSubscriptionUpdate = "subscription_update"
)

// Topics a client can subscribe to
const (
	TopicAlerts        = "alerts"
	TopicNotifications = "notifications"
	TopicSystem        = "system"
)

// DefaultTopics are subscribed on connect
var DefaultTopics = []string{TopicAlerts, TopicNotifications, TopicSystem}

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Topic     string                 `json:"topic,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes, stamping it when no time is set
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// AlertEventMessage creates a message for an alert lifecycle transition
func AlertEventMessage(event monitoring.AlertEvent) Message {
	return Message{
		Type:  MessageTypeAlertEvent,
		Topic: TopicAlerts,
		Data: map[string]interface{}{
			"event": event.Type,
			"alert": event.Alert,
		},
		Timestamp: event.Timestamp.UTC(),
	}
}

// NotificationMessage creates a message for a dashboard notification
func NotificationMessage(n notify.Notification) Message {
	return Message{
		Type:  MessageTypeNotification,
		Topic: TopicNotifications,
		Data: map[string]interface{}{
			"id":       n.ID,
			"kind":     n.Kind,
			"channel":  n.Channel,
			"severity": n.Severity,
			"title":    n.Title,
			"message":  n.Message,
			"data":     n.Data,
		},
		Timestamp: n.Timestamp.UTC(),
	}
}

// SystemStatusMessage creates a message for system status updates
func SystemStatusMessage(status string, details map[string]interface{}) Message {
	return Message{
		Type:  MessageTypeSystemStatus,
		Topic: TopicSystem,
		Data: map[string]interface{}{
			"status":  status,
			"details": details,
		},
	}
}
