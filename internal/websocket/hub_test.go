package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/notify"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(ClientConfig{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, server, cancel
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_WelcomeAndAlertEvents(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server)

	welcome := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnection, welcome.Type)
	assert.ElementsMatch(t, []interface{}{TopicAlerts, TopicNotifications, TopicSystem}, welcome.Data["topics"])
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	forward := AlertForwarder(hub)
	forward(monitoring.AlertEvent{
		Type:      monitoring.EventActivated,
		Alert:     monitoring.Alert{ID: "a-1", RuleName: "queue_backlog", Severity: monitoring.SeverityHigh},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeAlertEvent, msg.Type)
	assert.Equal(t, TopicAlerts, msg.Topic)
	assert.Equal(t, "alert.activated", msg.Data["event"])
	alert, ok := msg.Data["alert"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "queue_backlog", alert["rule_name"])
}

func TestHub_TopicSubscriptions(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{
		Type: MessageTypeUnsubscribe,
		Data: map[string]interface{}{"topic": TopicAlerts},
	}))
	update := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscriptionUpdate, update.Type)
	assert.ElementsMatch(t, []interface{}{TopicNotifications, TopicSystem}, update.Data["topics"])

	AlertForwarder(hub)(monitoring.AlertEvent{Type: monitoring.EventResolved, Alert: monitoring.Alert{ID: "a-1"}})
	sink := NewNotificationSink(hub)
	require.NoError(t, sink.Send(context.Background(), notify.Notification{
		ID:       "n-1",
		Kind:     "alert.activated",
		Channel:  "dashboard",
		Severity: "high",
		Title:    "Queue backlog",
	}))

	// the alert broadcast is skipped for this client
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Equal(t, "Queue backlog", msg.Data["title"])

	assert.Eventually(t, func() bool { return hub.GetStats().MessagesReceived == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_Ping(t *testing.T) {
	_, server, _ := startHub(t)
	conn := dial(t, server)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, server, cancel := startHub(t)
	conn := dial(t, server)
	readMessage(t, conn)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestNotificationSink_CancelledContext(t *testing.T) {
	hub := NewHub(ClientConfig{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewNotificationSink(hub).Send(ctx, notify.Notification{ID: "n-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientConfig_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "panel.local", true},
		{"same host", nil, "http://panel.local:3001", "panel.local:3001", true},
		{"listed origin", []string{"http://localhost:3000"}, "http://localhost:3000", "panel.local", true},
		{"wildcard", []string{"*"}, "http://evil.example", "panel.local", true},
		{"foreign origin", []string{"http://localhost:3000"}, "http://evil.example", "panel.local", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ClientConfig{AllowedOrigins: tt.allowed}
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, cfg.checkOrigin(req))
		})
	}
}

func TestClientConfig_Defaults(t *testing.T) {
	cfg := ClientConfig{PingInterval: 90 * time.Second, PongTimeout: 60 * time.Second}.withDefaults()
	assert.Equal(t, 54*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}
