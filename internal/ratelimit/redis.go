package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript keeps one sorted set per (principal, rule) holding the
// admission timestamps.  All windows are pruned and checked before any is
// written, so a daily denial never burns an hourly slot.
//
// KEYS[i]   window key for rule i
// ARGV[1]   now in ms
// ARGV[2]   member id for this admission
// ARGV[2+2i-1], ARGV[2+2i]  window ms and limit of rule i
// returns { allowed, violated_index, retry_ms, remaining_1..n }
var slidingScript = redis.NewScript(`
	local now_ms = tonumber(ARGV[1])
	local member = ARGV[2]
	local n = #KEYS
	local counts = {}
	for i = 1, n do
		local window_ms = tonumber(ARGV[1 + 2*i])
		local limit = tonumber(ARGV[2 + 2*i])
		redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now_ms - window_ms)
		local count = redis.call('ZCARD', KEYS[i])
		if count >= limit then
			local retry_ms = window_ms
			local oldest = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
			if oldest[2] then
				retry_ms = tonumber(oldest[2]) + window_ms - now_ms
			end
			local out = {0, i, retry_ms}
			for j = 1, n do table.insert(out, 0) end
			return out
		end
		counts[i] = count
	end
	local out = {1, 0, 0}
	for i = 1, n do
		local window_ms = tonumber(ARGV[1 + 2*i])
		local limit = tonumber(ARGV[2 + 2*i])
		redis.call('ZADD', KEYS[i], now_ms, member)
		redis.call('PEXPIRE', KEYS[i], window_ms)
		table.insert(out, limit - counts[i] - 1)
	end
	return out
`)

// RedisLimiter is the production Limiter.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

func (l *RedisLimiter) key(principal string, r Rule) string {
	// Hash tag keeps every window of a principal in one cluster slot.
	return fmt.Sprintf("%s:{%s}:%s", l.prefix, principal, r.Name)
}

func (l *RedisLimiter) Allow(ctx context.Context, principal string, now time.Time, rules ...Rule) (Decision, error) {
	if len(rules) == 0 {
		return Decision{Allowed: true, Remaining: map[string]int{}}, nil
	}
	keys := make([]string, len(rules))
	args := []interface{}{now.UnixMilli(), uuid.NewString()}
	for i, r := range rules {
		keys[i] = l.key(principal, r)
		args = append(args, r.Window.Milliseconds(), r.Limit)
	}
	vals, err := slidingScript.Run(ctx, l.rdb, keys, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit script: %w", err)
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3+len(rules) {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", vals)
	}
	d := Decision{Allowed: asInt64(arr[0]) == 1, Remaining: make(map[string]int, len(rules))}
	if !d.Allowed {
		idx := int(asInt64(arr[1])) - 1
		if idx >= 0 && idx < len(rules) {
			d.Violated = rules[idx].Name
		}
		d.RetryAfter = time.Duration(asInt64(arr[2])) * time.Millisecond
	}
	for i, r := range rules {
		d.Remaining[r.Name] = int(asInt64(arr[3+i]))
	}
	return d, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
