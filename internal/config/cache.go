package config

import (
    "strings"
    "time"
)

// CacheConfig defines settings for the response cache middleware placed in
// front of read-only aggregate views (the heat map).  When Enabled is false or
// no Redis client is configured, caching is disabled.  TTL should stay short:
// heat bins move with every scan and signal.
type CacheConfig struct {
    Enabled      bool
    Methods      map[string]bool
    TTL          time.Duration
    KeyStrategy  string
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads environment variables to build a CacheConfig.  Defaults
// are used when variables are not set.  All methods are upper-cased.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled:      envBool("HEATMAP_CACHE_ENABLED", true),
        Methods:      parseMethods(envStr("HEATMAP_CACHE_METHODS", "GET")),
        TTL:          envDur("HEATMAP_CACHE_TTL", 15*time.Second),
        KeyStrategy:  envStr("HEATMAP_CACHE_KEY_STRATEGY", "route_query"),
        Prefix:       envStr("HEATMAP_CACHE_PREFIX", "cache:heat"),
        MaxBodyBytes: envInt("HEATMAP_CACHE_MAX_BODY_BYTES", 1048576),
    }
}

func parseMethods(s string) map[string]bool {
    m := map[string]bool{}
    for _, p := range strings.Split(s, ",") {
        p = strings.TrimSpace(strings.ToUpper(p))
        if p != "" {
            m[p] = true
        }
    }
    return m
}
