package monitoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleSet is the content of a rules file
type RuleSet struct {
	Rules    []AlertRule
	Policies []EscalationPolicy
}

type ruleFile struct {
	Rules              []ruleDocument     `yaml:"rules"`
	EscalationPolicies []EscalationPolicy `yaml:"escalation_policies"`
}

type ruleDocument struct {
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description"`
	MetricPattern string                 `yaml:"metric_pattern"`
	Condition     ConditionType          `yaml:"condition"`
	Params        map[string]interface{} `yaml:"params"`
	ValueKey      string                 `yaml:"value_key"`
	Duration      time.Duration          `yaml:"duration"`
	Severity      AlertSeverity          `yaml:"severity"`
	Actions       []string               `yaml:"actions"`
	Enabled       *bool                  `yaml:"enabled"`
}

// LoadRuleFile reads rules and escalation policies from a YAML file
func LoadRuleFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	set, err := ParseRules(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return set, nil
}

// ParseRules decodes a rules document. Rules are enabled unless they say otherwise.
func ParseRules(r io.Reader) (*RuleSet, error) {
	var file ruleFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	set := &RuleSet{Policies: file.EscalationPolicies}
	seen := make(map[string]bool, len(file.Rules))
	var errs []error
	for _, doc := range file.Rules {
		rule := AlertRule{
			Name:          doc.Name,
			Description:   doc.Description,
			MetricPattern: doc.MetricPattern,
			Condition:     doc.Condition,
			Params:        doc.Params,
			ValueKey:      doc.ValueKey,
			DurationMs:    doc.Duration.Milliseconds(),
			Severity:      doc.Severity,
			Actions:       doc.Actions,
			Enabled:       doc.Enabled == nil || *doc.Enabled,
		}
		if seen[rule.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrRuleExists, rule.Name))
			continue
		}
		seen[rule.Name] = true
		if err := rule.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		set.Rules = append(set.Rules, rule)
	}

	for _, p := range set.Policies {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}
