package monitoring

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
)

// EscalationLevel is one step of an escalation policy
type EscalationLevel struct {
	Delay   time.Duration `json:"delay" yaml:"delay"`
	Actions []string      `json:"actions" yaml:"actions"`
}

// EscalationPolicy is the follow-up sequence for unresolved alerts of one severity
type EscalationPolicy struct {
	Severity  AlertSeverity     `json:"severity" yaml:"severity"`
	Levels    []EscalationLevel `json:"levels" yaml:"levels"`
	MaxLevels int               `json:"max_levels" yaml:"max_levels"`
	Cooldown  time.Duration     `json:"cooldown" yaml:"cooldown"`
}

// Limit is the number of levels that may run: MaxLevels when set, capped by the defined levels
func (p EscalationPolicy) Limit() int {
	if p.MaxLevels > 0 && p.MaxLevels < len(p.Levels) {
		return p.MaxLevels
	}
	return len(p.Levels)
}

// Validate checks the policy
func (p EscalationPolicy) Validate() error {
	if !p.Severity.Valid() {
		return fmt.Errorf("escalation policy has unknown severity %q", p.Severity)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("escalation policy for %s has no levels", p.Severity)
	}
	if p.MaxLevels < 0 || p.Cooldown < 0 {
		return fmt.Errorf("escalation policy for %s has negative limits", p.Severity)
	}
	for i, level := range p.Levels {
		if level.Delay < 0 {
			return fmt.Errorf("escalation level %d for %s has a negative delay", i, p.Severity)
		}
		for _, action := range level.Actions {
			if !isKnownAction(action) || action == ActionEscalate {
				return fmt.Errorf("escalation level %d for %s has invalid action %q", i, p.Severity, action)
			}
		}
	}
	return nil
}

// DefaultEscalationPolicies returns the built-in policies for critical and high alerts
func DefaultEscalationPolicies() []EscalationPolicy {
	return []EscalationPolicy{
		{
			Severity: SeverityCritical,
			Levels: []EscalationLevel{
				{Delay: 0, Actions: []string{ActionNotifyAdmin}},
				{Delay: 5 * time.Minute, Actions: []string{ActionNotifyEmail}},
				{Delay: 15 * time.Minute, Actions: []string{ActionNotifySMS}},
				{Delay: 60 * time.Minute, Actions: []string{ActionNotifyAll, ActionCreateIncident}},
			},
			MaxLevels: 4,
			Cooldown:  30 * time.Minute,
		},
		{
			Severity: SeverityHigh,
			Levels: []EscalationLevel{
				{Delay: 0, Actions: []string{ActionNotifyAdmin}},
				{Delay: 15 * time.Minute, Actions: []string{ActionNotifyEmail}},
				{Delay: 60 * time.Minute, Actions: []string{ActionNotifySMS}},
			},
			MaxLevels: 3,
			Cooldown:  30 * time.Minute,
		},
	}
}

// escalationTarget is the alert table the scheduler acts on
type escalationTarget interface {
	Get(id string) (Alert, bool)
	RecordEscalation(id string, level int, at time.Time) (Alert, bool)
}

type escalationItem struct {
	alertID string
	due     time.Time
	index   int
}

// escalationQueue is a min-heap on due time
type escalationQueue []*escalationItem

func (q escalationQueue) Len() int           { return len(q) }
func (q escalationQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }
func (q escalationQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *escalationQueue) Push(x interface{}) {
	item := x.(*escalationItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *escalationQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// EscalationScheduler runs escalation levels for active alerts from a single delay
// queue keyed by alert id. A fire for an alert that is no longer active is a no-op.
type EscalationScheduler struct {
	mu       sync.Mutex
	policies map[AlertSeverity]EscalationPolicy
	queue    escalationQueue
	items    map[string]*escalationItem

	target      escalationTarget
	actions     *ActionExecutor
	suppression *SuppressionRegistry
	clock       clock.Clock
	logger      *logrus.Logger
	metrics     *metrics.EngineMetrics

	ctx      context.Context
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  bool
	executed int64
	deferred int64
}

// NewEscalationScheduler creates a scheduler for the given policies
func NewEscalationScheduler(policies []EscalationPolicy, clk clock.Clock, logger *logrus.Logger) (*EscalationScheduler, error) {
	if clk == nil {
		clk = clock.Real()
	}
	byseverity := make(map[AlertSeverity]EscalationPolicy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byseverity[p.Severity]; dup {
			return nil, fmt.Errorf("duplicate escalation policy for %s", p.Severity)
		}
		byseverity[p.Severity] = p
	}

	return &EscalationScheduler{
		policies: byseverity,
		items:    make(map[string]*escalationItem),
		clock:    clk,
		logger:   logger,
		ctx:      context.Background(),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}, nil
}

func (s *EscalationScheduler) bind(target escalationTarget, actions *ActionExecutor, suppression *SuppressionRegistry) {
	s.target = target
	s.actions = actions
	s.suppression = suppression
}

// SetMetrics attaches the engine's Prometheus instruments
func (s *EscalationScheduler) SetMetrics(m *metrics.EngineMetrics) {
	s.metrics = m
}

// Policy returns the policy for a severity
func (s *EscalationScheduler) Policy(severity AlertSeverity) (EscalationPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[severity]
	return p, ok
}

// Policies returns every configured policy
func (s *EscalationScheduler) Policies() []EscalationPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EscalationPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out
}

// Escalate schedules the first level for a newly active alert. It reports false when
// no policy exists for the alert's severity.
func (s *EscalationScheduler) Escalate(alert Alert) bool {
	policy, ok := s.Policy(alert.Severity)
	if !ok || policy.Limit() == 0 {
		return false
	}
	s.Schedule(alert.ID, s.clock.Now().Add(policy.Levels[0].Delay))
	return true
}

// Schedule sets the next fire time of an alert, replacing any pending one
func (s *EscalationScheduler) Schedule(alertID string, at time.Time) {
	s.mu.Lock()
	if item, ok := s.items[alertID]; ok {
		item.due = at
		heap.Fix(&s.queue, item.index)
	} else {
		item := &escalationItem{alertID: alertID, due: at}
		heap.Push(&s.queue, item)
		s.items[alertID] = item
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops the pending fire of an alert
func (s *EscalationScheduler) Cancel(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[alertID]; ok {
		heap.Remove(&s.queue, item.index)
		delete(s.items, alertID)
	}
}

// Pending returns the number of scheduled fires
func (s *EscalationScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextDue returns the earliest scheduled fire time
func (s *EscalationScheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].due, true
}

// RunDue fires every entry due at or before now and returns how many fired
func (s *EscalationScheduler) RunDue(now time.Time) int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due.After(now) {
			s.mu.Unlock()
			return fired
		}
		item := heap.Pop(&s.queue).(*escalationItem)
		delete(s.items, item.alertID)
		s.mu.Unlock()

		s.fire(item.alertID, now)
		fired++
	}
}

func (s *EscalationScheduler) fire(alertID string, now time.Time) {
	if s.target == nil {
		return
	}
	alert, ok := s.target.Get(alertID)
	if !ok || alert.State != StateActive {
		return
	}

	policy, ok := s.Policy(alert.Severity)
	if !ok {
		return
	}
	limit := policy.Limit()
	level := alert.EscalationLevel
	if level >= limit {
		return
	}

	logger := s.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"rule":     alert.RuleName,
		"level":    level,
	})

	if s.suppression != nil {
		if until, suppressed := s.suppression.SuppressedUntil(alert.RuleName); suppressed {
			s.deferTo(alertID, until)
			logger.WithField("until", until).Debug("Escalation deferred while rule is suppressed")
			return
		}
	}

	if alert.LastEscalationTime != nil {
		ready := alert.LastEscalationTime.Add(policy.Cooldown)
		if now.Before(ready) {
			s.deferTo(alertID, ready)
			logger.WithField("until", ready).Debug("Escalation deferred until cooldown ends")
			return
		}
	}

	updated, ok := s.target.RecordEscalation(alertID, level, now)
	if !ok {
		return
	}

	s.mu.Lock()
	s.executed++
	ctx := s.ctx
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Escalations.WithLabelValues(string(alert.Severity)).Inc()
	}
	logger.Info("Escalating alert")

	if s.actions != nil {
		s.actions.Execute(ctx, policy.Levels[level].Actions, updated, nil)
	}

	if next := level + 1; next < limit {
		s.Schedule(alertID, now.Add(policy.Levels[next].Delay))
	}
}

func (s *EscalationScheduler) deferTo(alertID string, at time.Time) {
	s.mu.Lock()
	s.deferred++
	s.mu.Unlock()
	s.Schedule(alertID, at)
}

// Start runs the delay queue against the real clock until ctx ends or Stop is called
func (s *EscalationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the scheduler loop
func (s *EscalationScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *EscalationScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if due, ok := s.NextDue(); ok {
			wait := due.Sub(s.clock.Now())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-s.stopChan:
			stopTimer(timer)
			return
		case <-s.wake:
			stopTimer(timer)
		case <-timerC:
			s.RunDue(s.clock.Now())
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// GetStats returns scheduler counters
func (s *EscalationScheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"pending":  len(s.queue),
		"executed": s.executed,
		"deferred": s.deferred,
		"policies": len(s.policies),
	}
}

// Executed returns the number of escalation levels run
func (s *EscalationScheduler) Executed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}
