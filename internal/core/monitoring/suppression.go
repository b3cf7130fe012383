package monitoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/clock"
)

// Suppression mutes a rule until ExpiresAt
type Suppression struct {
	RuleName  string    `json:"rule_name"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SuppressionRegistry tracks time-boxed rule mutes. Expired entries are evicted on lookup.
type SuppressionRegistry struct {
	mu      sync.Mutex
	entries map[string]Suppression
	clock   clock.Clock
	logger  *logrus.Logger
}

// NewSuppressionRegistry creates an empty registry
func NewSuppressionRegistry(clk clock.Clock, logger *logrus.Logger) *SuppressionRegistry {
	if clk == nil {
		clk = clock.Real()
	}
	return &SuppressionRegistry{
		entries: make(map[string]Suppression),
		clock:   clk,
		logger:  logger,
	}
}

// Suppress mutes a rule for d, replacing any existing suppression of it
func (r *SuppressionRegistry) Suppress(ruleName string, d time.Duration, reason string) (Suppression, error) {
	if ruleName == "" {
		return Suppression{}, fmt.Errorf("rule name is required")
	}
	if d <= 0 {
		return Suppression{}, fmt.Errorf("suppression duration must be positive")
	}

	now := r.clock.Now()
	s := Suppression{
		RuleName:  ruleName,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(d),
	}

	r.mu.Lock()
	r.entries[ruleName] = s
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"rule":       ruleName,
		"expires_at": s.ExpiresAt,
		"reason":     reason,
	}).Info("Rule suppressed")
	return s, nil
}

// IsSuppressed is true strictly before the suppression expires
func (r *SuppressionRegistry) IsSuppressed(ruleName string) bool {
	_, ok := r.SuppressedUntil(ruleName)
	return ok
}

// SuppressedUntil returns the expiry of a live suppression
func (r *SuppressionRegistry) SuppressedUntil(ruleName string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.entries[ruleName]
	if !ok {
		return time.Time{}, false
	}
	if !r.clock.Now().Before(s.ExpiresAt) {
		delete(r.entries, ruleName)
		return time.Time{}, false
	}
	return s.ExpiresAt, true
}

// Unsuppress lifts a suppression. It reports whether one was live.
func (r *SuppressionRegistry) Unsuppress(ruleName string) bool {
	r.mu.Lock()
	s, ok := r.entries[ruleName]
	delete(r.entries, ruleName)
	r.mu.Unlock()

	live := ok && r.clock.Now().Before(s.ExpiresAt)
	if live {
		r.logger.WithField("rule", ruleName).Info("Rule suppression lifted")
	}
	return live
}

// List returns the live suppressions ordered by expiry, evicting expired ones
func (r *SuppressionRegistry) List() []Suppression {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]Suppression, 0, len(r.entries))
	for name, s := range r.entries {
		if !now.Before(s.ExpiresAt) {
			delete(r.entries, name)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}
