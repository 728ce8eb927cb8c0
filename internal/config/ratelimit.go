package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// RateLimitConfig drives the per-IP token bucket in front of the scan routes.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
    Debug          bool
}

func LoadRateLimitConfig() RateLimitConfig {
    def := RateLimitConfig{
        Enabled:        envBool("SCAN_RATE_LIMIT_ENABLED", true),
        Capacity:       envInt("SCAN_RATE_LIMIT_CAPACITY", 30),
        RefillTokens:   envInt("SCAN_RATE_LIMIT_REFILL_TOKENS", 1),
        RefillInterval: envDur("SCAN_RATE_LIMIT_REFILL_INTERVAL", 2*time.Second),
        TTL:            envDur("SCAN_RATE_LIMIT_TTL", 10*time.Minute),
        KeyStrategy:    envStr("SCAN_RATE_LIMIT_KEY_STRATEGY", "ip"),
        Prefix:         envStr("SCAN_RATE_LIMIT_PREFIX", "rl:scan"),
        Debug:          envBool("SCAN_RATE_LIMIT_DEBUG", false),
    }
    if def.Capacity < 1 { def.Capacity = 1 }
    if def.RefillTokens < 1 { def.RefillTokens = 1 }
    if def.RefillInterval <= 0 { def.RefillInterval = time.Second }
    minTTL := 5 * def.RefillInterval
    if def.TTL < minTTL { def.TTL = minTTL }
    return def
}

// TierLimit holds the hourly and daily caps on "Right Now" posts for one
// membership tier.
type TierLimit struct {
    Hourly int
    Daily  int
}

// SignalLimits maps membership tiers to post caps.  Unknown tiers, and
// callers without a tier, get the "free" caps.
type SignalLimits struct {
    Tiers  map[string]TierLimit
    Prefix string
}

// DefaultTier is the tier applied when a profile carries none.
const DefaultTier = "free"

// LoadSignalLimits parses RIGHT_NOW_LIMITS, a comma separated list of
// tier:hourly:daily triples.  The free tier always exists and defaults to 5/20.
func LoadSignalLimits() SignalLimits {
    return ParseSignalLimits(envStr("RIGHT_NOW_LIMITS", "free:5:20,plus:15:60,chrome:60:240"), envStr("RIGHT_NOW_LIMIT_PREFIX", "rl:signal"))
}

// ParseSignalLimits is split out of LoadSignalLimits for tests.
func ParseSignalLimits(spec, prefix string) SignalLimits {
    out := SignalLimits{Tiers: map[string]TierLimit{}, Prefix: prefix}
    for _, part := range strings.Split(spec, ",") {
        fields := strings.Split(strings.TrimSpace(part), ":")
        if len(fields) != 3 {
            continue
        }
        h, errH := strconv.Atoi(fields[1])
        d, errD := strconv.Atoi(fields[2])
        if errH != nil || errD != nil || h < 1 || d < 1 {
            continue
        }
        out.Tiers[strings.ToLower(strings.TrimSpace(fields[0]))] = TierLimit{Hourly: h, Daily: d}
    }
    if _, ok := out.Tiers[DefaultTier]; !ok {
        out.Tiers[DefaultTier] = TierLimit{Hourly: 5, Daily: 20}
    }
    return out
}

// For returns the caps for tier, falling back to the free tier.
func (s SignalLimits) For(tier string) TierLimit {
    if l, ok := s.Tiers[strings.ToLower(tier)]; ok {
        return l
    }
    return s.Tiers[DefaultTier]
}

// Upgrade returns the cheapest tier whose hourly cap exceeds the given tier's,
// or "" when none does.  Used to build the remediation hint on 429.
func (s SignalLimits) Upgrade(tier string) string {
    cur := s.For(tier)
    best, bestCap := "", 0
    for name, l := range s.Tiers {
        if l.Hourly > cur.Hourly && (best == "" || l.Hourly < bestCap) {
            best, bestCap = name, l.Hourly
        }
    }
    return best
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" { return d }
    switch v {
    case "1","true","TRUE","True","yes","YES","on","ON": return true
    case "0","false","FALSE","False","no","NO","off","OFF": return false
    }
    return d
}
func envInt(k string, d int) int {
    v := os.Getenv(k); if v == "" { return d }
    if n, err := strconv.Atoi(v); err == nil { return n }
    return d
}
func envFloat(k string, d float64) float64 {
    v := os.Getenv(k); if v == "" { return d }
    if f, err := strconv.ParseFloat(v, 64); err == nil { return f }
    return d
}
func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k); if v == "" { return d }
    if dur, err := time.ParseDuration(v); err == nil { return dur }
    return d
}
