package middleware

import (
    "fmt"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/beacon-signal-engine/internal/config"
    "github.com/iliyamo/beacon-signal-engine/internal/ratelimit"
    "github.com/iliyamo/beacon-signal-engine/internal/service"
    "github.com/iliyamo/beacon-signal-engine/internal/telemetry"
)

// tokenBucketScript refills by whole intervals and takes one token in a single
// round trip.  Returns {allowed, tokens_left, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])
    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    local elapsed = math.max(0, now_ms - last_refill)
    local intervals = math.floor(elapsed / interval_ms)
    if intervals > 0 then
        tokens = math.min(capacity, tokens + (intervals * refill_tokens))
        last_refill = last_refill + (intervals * interval_ms)
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)
    return { allowed, tokens, retry_after_ms }
`)

// bucketResult is one token-bucket decision.
type bucketResult struct {
    allowed   bool
    remaining int64
    retry     time.Duration
}

// NewTokenBucket throttles the scan routes per client.  With Redis the bucket
// is shared by every replica; without it fallback (usually a
// ratelimit.MemoryLimiter) enforces the same average rate as a sliding
// window on this replica only.  Store errors let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, fallback ratelimit.Limiter) echo.MiddlewareFunc {
    if !cfg.Enabled || (rdb == nil && fallback == nil) {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    log := telemetry.Component("ratelimit")

    // the sliding window equivalent to refilling the whole bucket
    window := time.Duration(int64(cfg.RefillInterval) * int64(cfg.Capacity) / int64(cfg.RefillTokens))

    take := func(c echo.Context, key string, now time.Time) (bucketResult, error) {
        ctx := c.Request().Context()
        if rdb == nil {
            ok, left, err := ratelimit.AllowOne(ctx, fallback, key, now, window, cfg.Capacity)
            res := bucketResult{allowed: ok, remaining: int64(left)}
            if !ok {
                res.retry = cfg.RefillInterval
            }
            return res, err
        }
        vals, err := tokenBucketScript.Run(ctx, rdb, []string{key},
            now.UnixMilli(), cfg.Capacity, cfg.RefillTokens,
            cfg.RefillInterval.Milliseconds(), int64(cfg.TTL/time.Second)).Result()
        if err != nil {
            return bucketResult{}, err
        }
        arr, ok := vals.([]interface{})
        if !ok || len(arr) != 3 {
            return bucketResult{}, fmt.Errorf("unexpected script result %#v", vals)
        }
        return bucketResult{
            allowed:   asInt64(arr[0]) == 1,
            remaining: asInt64(arr[1]),
            retry:     time.Duration(asInt64(arr[2])) * time.Millisecond,
        }, nil
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            res, err := take(c, key, time.Now())
            if err != nil {
                log.Warn("scan rate limiter unavailable, allowing request", "key", key, "error", err)
                return next(c)
            }

            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
            if cfg.Debug {
                c.Response().Header().Set("X-RateLimit-Key", key)
            }
            if res.allowed {
                return next(c)
            }

            secs := int(math.Ceil(res.retry.Seconds()))
            if secs < 1 { secs = 1 }
            c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
            telemetry.RateLimitDenialsTotal.WithLabelValues("scan", "bucket").Inc()
            if cfg.Debug {
                log.Info("scan rate limit hit", "key", key, "retry_after_s", secs)
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "ok":      false,
                "error":   service.CodeRateLimited,
                "message": "too many scans from this client",
                "hint":    fmt.Sprintf("retry in %ds", secs),
            })
        }
    }
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64: return t
    case int: return int64(t)
    case float64: return int64(t)
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil { return n }
    }
    return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" { ip = "unknown" }
    route := c.Request().Method + " " + c.Path()

    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case "user":
        parts = append(parts, "user", principal(c))
    case "ip_user":
        parts = append(parts, "ip", ip, "user", principal(c))
    case "ip_route":
        parts = append(parts, "ip", ip, "route", route)
    default: // "ip"
        parts = append(parts, "ip", ip)
    }
    return strings.Join(parts, ":")
}
