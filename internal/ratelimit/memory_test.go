package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signalRules = []Rule{
	{Name: "hour", Window: time.Hour, Limit: 5},
	{Name: "day", Window: 24 * time.Hour, Limit: 20},
}

func TestMemoryLimiter_concurrentCallersNeverExceedCap(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Now()

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), "user-1", now, signalRules...)
			assert.NoError(t, err)
			if d.Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, allowed.Load())
	assert.EqualValues(t, 5, denied.Load())
}

func TestMemoryLimiter_reportsViolatedWindowAndRemaining(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Now()

	for i := 0; i < 5; i++ {
		d, err := l.Allow(context.Background(), "u", now, signalRules...)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, 4-i, d.Remaining["hour"])
		assert.Equal(t, 19-i, d.Remaining["day"])
	}

	d, err := l.Allow(context.Background(), "u", now.Add(time.Minute), signalRules...)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "hour", d.Violated)
	assert.Equal(t, 59*time.Minute, d.RetryAfter)
}

func TestMemoryLimiter_windowSlides(t *testing.T) {
	l := NewMemoryLimiter()
	start := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		d, _ := l.Allow(context.Background(), "u", start, signalRules...)
		require.True(t, d.Allowed)
	}
	d, _ := l.Allow(context.Background(), "u", start.Add(59*time.Minute), signalRules...)
	assert.False(t, d.Allowed)

	d, _ = l.Allow(context.Background(), "u", start.Add(61*time.Minute), signalRules...)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_dailyDenialDoesNotBurnHourlySlot(t *testing.T) {
	l := NewMemoryLimiter()
	rules := []Rule{{Name: "hour", Window: time.Hour, Limit: 5}, {Name: "day", Window: 24 * time.Hour, Limit: 2}}
	now := time.Now()

	for i := 0; i < 2; i++ {
		d, _ := l.Allow(context.Background(), "u", now, rules...)
		require.True(t, d.Allowed)
	}
	d, _ := l.Allow(context.Background(), "u", now, rules...)
	require.False(t, d.Allowed)
	assert.Equal(t, "day", d.Violated)

	hourOnly, _ := l.Allow(context.Background(), "u", now, rules[0])
	assert.True(t, hourOnly.Allowed)
	assert.Equal(t, 2, hourOnly.Remaining["hour"], "only the two admitted events count against the hour")
}

func TestMemoryLimiter_principalsAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Now()
	for i := 0; i < 5; i++ {
		_, _ = l.Allow(context.Background(), "a", now, signalRules...)
	}
	d, _ := l.Allow(context.Background(), "b", now, signalRules...)
	assert.True(t, d.Allowed)
}

func TestAllowOne(t *testing.T) {
	l := NewMemoryLimiter()
	ok, remaining, err := AllowOne(context.Background(), l, "u", time.Now(), time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
}

func TestMemoryLimiter_evictsIdlePrincipals(t *testing.T) {
	l := NewMemoryLimiter()
	start := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		_, err := l.Allow(context.Background(), fmt.Sprintf("ip-%d", i), start, Rule{Name: "scan", Window: time.Minute, Limit: 5})
		require.NoError(t, err)
	}
	assert.Equal(t, 100, l.Len())

	d, err := l.Allow(context.Background(), "ip-0", start.Add(2*time.Minute), Rule{Name: "scan", Window: time.Minute, Limit: 5})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining["scan"])
	assert.Equal(t, 1, l.Len(), "only the principal that just scanned is still tracked")
}
