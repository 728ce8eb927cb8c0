package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how often, in limiter time, idle principals are evicted.
const sweepEvery = time.Minute

// window is the admitted timestamps of one rule for one principal.
type window struct {
	span time.Duration
	hits []time.Time
}

// MemoryLimiter is the in-process Limiter used when Redis is unavailable and
// in tests.  It is only correct for a single replica.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window)}
}

func (l *MemoryLimiter) Allow(_ context.Context, principal string, now time.Time, rules ...Rule) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	d := Decision{Allowed: true, Remaining: make(map[string]int, len(rules))}
	for _, r := range rules {
		k := r.Name + ":" + principal
		var hits []time.Time
		if w := l.windows[k]; w != nil {
			w.prune(now.Add(-r.Window))
			if len(w.hits) == 0 {
				delete(l.windows, k)
			}
			hits = w.hits
		}
		if len(hits) >= r.Limit {
			d.Allowed = false
			d.Violated = r.Name
			if len(hits) > 0 {
				d.RetryAfter = hits[0].Add(r.Window).Sub(now)
			}
			d.Remaining = make(map[string]int, len(rules))
			return d, nil
		}
	}
	for _, r := range rules {
		k := r.Name + ":" + principal
		w := l.windows[k]
		if w == nil {
			w = &window{}
			l.windows[k] = w
		}
		w.span = r.Window
		w.hits = append(w.hits, now)
		d.Remaining[r.Name] = r.Limit - len(w.hits)
	}
	return d, nil
}

// Len is the number of tracked (rule, principal) windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweep drops every window whose newest hit has aged out.  Caller holds mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepEvery {
		return
	}
	l.lastSweep = now
	for k, w := range l.windows {
		if n := len(w.hits); n == 0 || !w.hits[n-1].After(now.Add(-w.span)) {
			delete(l.windows, k)
		}
	}
}

func (w *window) prune(cutoff time.Time) {
	kept := w.hits[:0]
	for _, t := range w.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.hits = kept
}
