package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordingSink struct {
	mu       sync.Mutex
	received []Notification
	audits   []string
}

func (s *recordingSink) Send(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, n)
	return nil
}

func (s *recordingSink) Log(ctx context.Context, kind string, details map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, kind)
	return nil
}

func (s *recordingSink) count() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received), len(s.audits)
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	d := NewDispatcher(16, time.Second, testLogger())
	first := &recordingSink{}
	second := &recordingSink{}
	d.AddSink("first", first)
	d.AddSink("second", second)
	d.SetAuditSink(first)
	d.Start(context.Background())

	d.Notify(Notification{Kind: "alert.activated", Channel: ChannelAdmin, Title: "queue depth"})
	d.Audit("alert.activated", map[string]interface{}{"rule": "queue"})

	assert.Eventually(t, func() bool {
		n1, a1 := first.count()
		n2, _ := second.count()
		return n1 == 1 && n2 == 1 && a1 == 1
	}, time.Second, 10*time.Millisecond)

	d.Stop()

	first.mu.Lock()
	defer first.mu.Unlock()
	assert.NotEmpty(t, first.received[0].ID)
	assert.False(t, first.received[0].Timestamp.IsZero())
}

func TestDispatcher_IsolatesSinkFailures(t *testing.T) {
	d := NewDispatcher(16, time.Second, testLogger())
	good := &recordingSink{}
	d.AddSink("failing", SinkFunc(func(ctx context.Context, n Notification) error {
		return errors.New("smtp down")
	}))
	d.AddSink("panicking", SinkFunc(func(ctx context.Context, n Notification) error {
		panic("sink exploded")
	}))
	d.AddSink("good", good)
	d.Start(context.Background())

	d.Notify(Notification{Title: "one"})
	d.Notify(Notification{Title: "two"})
	d.Stop()

	n, _ := good.count()
	assert.Equal(t, 2, n)

	stats := d.GetStats()
	assert.Equal(t, int64(4), stats["failed"])
	assert.Equal(t, int64(2), stats["sent"])
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, time.Second, testLogger())

	d.Notify(Notification{Title: "queued"})
	d.Notify(Notification{Title: "dropped"})

	assert.Equal(t, int64(1), d.GetStats()["dropped"])
	d.Stop()

	require.NotPanics(t, func() {
		d.Notify(Notification{Title: "after stop"})
		d.Audit("alert.activated", nil)
	})
	stats := d.GetStats()
	assert.Equal(t, int64(3), stats["dropped"], "items queued after Stop are discarded")
	assert.Equal(t, 0, stats["queued"])
}
