// Package ratelimit enforces request quotas such as "3/minute;30/hour;300/day"
// per client key. Every rule must admit a request for it to pass.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule admits Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

var units = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseRules reads a ';' separated list of "<count>/<unit>" or
// "<count> per <unit>" items. Units are second, minute, hour and day;
// a trailing "s" is accepted.
func ParseRules(raw string) ([]Rule, error) {
	var rules []Rule
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		r, err := parseRule(item)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("ratelimit: no rules in %q", raw)
	}
	return rules, nil
}

func parseRule(item string) (Rule, error) {
	count, unit, ok := strings.Cut(item, "/")
	if !ok {
		count, unit, ok = strings.Cut(item, " per ")
	}
	if !ok {
		return Rule{}, fmt.Errorf("ratelimit: malformed rule %q", item)
	}

	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n < 1 {
		return Rule{}, fmt.Errorf("ratelimit: bad count in rule %q", item)
	}
	unit = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s")
	window, ok := units[unit]
	if !ok {
		return Rule{}, fmt.Errorf("ratelimit: unknown unit in rule %q", item)
	}
	return Rule{Limit: n, Window: window}, nil
}

// Result describes one admission decision. Limit, Remaining and Reset refer
// to the most constrained rule.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the constraining rule admits another request.
	Reset time.Time
}

// RetryAfter is the wait before a denied request may be retried, rounded up
// to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.Reset.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
