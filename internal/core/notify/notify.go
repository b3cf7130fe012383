package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notification channels
const (
	ChannelDefault = "default"
	ChannelAdmin   = "admin"
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelPush    = "push"
)

// Notification is an opaque message for an external delivery channel
type Notification struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Channel   string                 `json:"channel"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink delivers notifications (email, SMS, push, dashboard)
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// AuditSink records audit events
type AuditSink interface {
	Log(ctx context.Context, kind string, details map[string]interface{}) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, n Notification) error

// Send calls f
func (f SinkFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type job struct {
	notification *Notification
	auditKind    string
	auditDetails map[string]interface{}
}

// Dispatcher delivers notifications and audit entries on a background worker.
// Callers never block: when the buffer is full the item is dropped and logged.
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   map[string]Sink
	audit   AuditSink
	logger  *logrus.Logger
	timeout time.Duration

	queue    chan job
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	stopped  bool

	statsMu sync.Mutex
	sent    int64
	failed  int64
	dropped int64
	audited int64
}

// Dispatcher defaults
const (
	DefaultBufferSize  = 256
	DefaultSendTimeout = 10 * time.Second
)

// NewDispatcher creates a dispatcher with the given buffer size
func NewDispatcher(bufferSize int, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		sinks:   make(map[string]Sink),
		logger:  logger,
		timeout: timeout,
		queue:   make(chan job, bufferSize),
	}
}

// AddSink registers a named sink. Every notification is fanned out to all sinks.
func (d *Dispatcher) AddSink(name string, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[name] = sink
}

// SetAuditSink sets the audit destination
func (d *Dispatcher) SetAuditSink(sink AuditSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audit = sink
}

// Start launches the delivery worker
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.worker(ctx)
	d.logger.Info("Notification dispatcher started")
}

// Stop drains queued items and stops the worker
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

// Notify queues a notification for delivery
func (d *Dispatcher) Notify(n Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	d.enqueue(job{notification: &n})
}

// Audit queues an audit entry
func (d *Dispatcher) Audit(kind string, details map[string]interface{}) {
	d.enqueue(job{auditKind: kind, auditDetails: details})
}

func (d *Dispatcher) enqueue(j job) {
	// the read lock keeps Stop from closing the queue mid-send
	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		d.countDropped()
		d.logger.Warn("Notification dispatcher stopped, discarding item")
		return
	}
	select {
	case d.queue <- j:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		d.countDropped()
		d.logger.Warn("Notification queue full, dropping item")
	}
}

func (d *Dispatcher) countDropped() {
	d.statsMu.Lock()
	d.dropped++
	d.statsMu.Unlock()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for j := range d.queue {
		if j.notification != nil {
			d.deliver(ctx, *j.notification)
		} else {
			d.record(ctx, j.auditKind, j.auditDetails)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	d.mu.RLock()
	sinks := make(map[string]Sink, len(d.sinks))
	for name, s := range d.sinks {
		sinks[name] = s
	}
	d.mu.RUnlock()

	for name, sink := range sinks {
		if err := d.safeSend(ctx, sink, n); err != nil {
			d.statsMu.Lock()
			d.failed++
			d.statsMu.Unlock()
			d.logger.WithError(err).WithFields(logrus.Fields{
				"sink":    name,
				"channel": n.Channel,
				"kind":    n.Kind,
			}).Error("Failed to deliver notification")
			continue
		}
		d.statsMu.Lock()
		d.sent++
		d.statsMu.Unlock()
	}
}

func (d *Dispatcher) safeSend(ctx context.Context, sink Sink, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return sink.Send(sctx, n)
}

func (d *Dispatcher) record(ctx context.Context, kind string, details map[string]interface{}) {
	d.mu.RLock()
	audit := d.audit
	d.mu.RUnlock()
	if audit == nil {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("audit sink panicked: %v", r)
			}
		}()
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return audit.Log(sctx, kind, details)
	}()
	if err != nil {
		d.logger.WithError(err).WithField("kind", kind).Error("Failed to write audit entry")
		return
	}
	d.statsMu.Lock()
	d.audited++
	d.statsMu.Unlock()
}

// GetStats returns delivery counters
func (d *Dispatcher) GetStats() map[string]interface{} {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return map[string]interface{}{
		"sent":    d.sent,
		"failed":  d.failed,
		"dropped": d.dropped,
		"audited": d.audited,
		"queued":  len(d.queue),
	}
}
