package monitoring

import (
	"fmt"
	"regexp"
	"strings"
)

// patternMatcher matches metric names against a rule's metric pattern
type patternMatcher struct {
	pattern string
	re      *regexp.Regexp
}

func compilePattern(pattern string) (*patternMatcher, error) {
	m := &patternMatcher{pattern: pattern}
	if pattern == "*" || !strings.Contains(pattern, "*") {
		return m, nil
	}

	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid metric pattern %q: %w", pattern, err)
	}
	m.re = re
	return m, nil
}

// Match reports whether name equals the pattern, the pattern is "*", or the glob matches
func (m *patternMatcher) Match(name string) bool {
	if m.pattern == "*" || m.pattern == name {
		return true
	}
	if m.re == nil {
		return false
	}
	return m.re.MatchString(name)
}

// MatchPattern reports whether a metric name matches a rule pattern
func MatchPattern(pattern, name string) bool {
	m, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return m.Match(name)
}
