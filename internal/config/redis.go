package config

import (
    "context"
    "crypto/tls"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig locates the Redis server behind the shared counters: signal
// rate limits, heat bins, the scan token bucket and the heat map cache.
type RedisConfig struct {
    Addr        string
    Password    string
    DB          int
    TLS         bool
    TLSInsecure bool   // skip certificate verification (dev only)
    HeatPrefix  string // key prefix of heat bins and their per-city index
}

// LoadRedisConfig reads REDIS_HOST/REDIS_PORT (or the REDIS_ADDR shorthand;
// host and port win when both are set), REDIS_PASSWORD, REDIS_DB, REDIS_TLS,
// REDIS_TLS_INSECURE and HEAT_KEY_PREFIX.
func LoadRedisConfig() RedisConfig {
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    return RedisConfig{
        Addr:        addr,
        Password:    os.Getenv("REDIS_PASSWORD"),
        DB:          envInt("REDIS_DB", 0),
        TLS:         envBool("REDIS_TLS", false),
        TLSInsecure: envBool("REDIS_TLS_INSECURE", false),
        HeatPrefix:  envStr("HEAT_KEY_PREFIX", "heat"),
    }
}

// NewRedisClient connects with per-command timeouts of timeout and pings the
// server.  It returns nil when Redis cannot be reached; callers then fall
// back to in-process stores, which are only correct for a single replica.
func NewRedisClient(cfg RedisConfig, timeout time.Duration) *redis.Client {
    var tlsConf *tls.Config
    if cfg.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.TLSInsecure}
    }
    client := redis.NewClient(&redis.Options{
        Addr:         cfg.Addr,
        Password:     cfg.Password,
        DB:           cfg.DB,
        TLSConfig:    tlsConf,
        ReadTimeout:  timeout,
        WriteTimeout: timeout,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
