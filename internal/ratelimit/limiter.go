// Package ratelimit implements per-principal sliding-window caps.  Every
// check-and-consume is a single atomic step in the backing store, so two
// concurrent callers can never both take the last slot.
package ratelimit

import (
	"context"
	"time"
)

// Rule is one window: at most Limit admissions per Window.
type Rule struct {
	Name   string
	Window time.Duration
	Limit  int
}

// Decision is the outcome of Allow.  When Allowed is false, Violated names
// the first rule that was already full and nothing was consumed.
type Decision struct {
	Allowed    bool
	Remaining  map[string]int
	Violated   string
	RetryAfter time.Duration
}

// Limiter admits or rejects one event for principal against all rules at
// once.  Either every window records the event or none does.
type Limiter interface {
	Allow(ctx context.Context, principal string, now time.Time, rules ...Rule) (Decision, error)
}

// AllowOne is the single-window form: (allowed, remaining).
func AllowOne(ctx context.Context, l Limiter, principal string, now time.Time, window time.Duration, limit int) (bool, int, error) {
	d, err := l.Allow(ctx, principal, now, Rule{Name: "w", Window: window, Limit: limit})
	if err != nil {
		return false, 0, err
	}
	return d.Allowed, d.Remaining["w"], nil
}
