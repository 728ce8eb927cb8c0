package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// incrementScript adds heat and refreshes metadata and expiry in one step.
// KEYS[1] bin hash, KEYS[2] city index (zset scored by expiry ms).
var incrementScript = redis.NewScript(`
	redis.call('HINCRBYFLOAT', KEYS[1], 'heat', ARGV[1])
	redis.call('HSET', KEYS[1], 'source', ARGV[2], 'city', ARGV[3], 'lat', ARGV[4], 'lng', ARGV[5], 'ttl_hours', ARGV[6], 'expires_at', ARGV[7])
	redis.call('PEXPIREAT', KEYS[1], ARGV[7])
	redis.call('ZADD', KEYS[2], ARGV[7], ARGV[8])
	return 1
`)

// RedisHeatStore is the production HeatStore.  Keys of one city share a
// hash tag so the increment script stays single-slot.
type RedisHeatStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisHeatStore(rdb *redis.Client, prefix string) *RedisHeatStore {
	if prefix == "" {
		prefix = "heat"
	}
	return &RedisHeatStore{rdb: rdb, prefix: prefix}
}

func (s *RedisHeatStore) binKey(city, bin string) string {
	return fmt.Sprintf("%s:{%s}:bin:%s", s.prefix, CityKey(city), bin)
}

func (s *RedisHeatStore) indexKey(city string) string {
	return fmt.Sprintf("%s:{%s}:idx", s.prefix, CityKey(city))
}

func (s *RedisHeatStore) Increment(ctx context.Context, inc Increment) error {
	exp := inc.ExpiresAt().UnixMilli()
	keys := []string{s.binKey(inc.City, inc.GeoBin), s.indexKey(inc.City)}
	args := []interface{}{
		strconv.FormatFloat(inc.HeatValue, 'f', -1, 64),
		inc.Source,
		inc.City,
		strconv.FormatFloat(inc.Lat, 'f', -1, 64),
		strconv.FormatFloat(inc.Lng, 'f', -1, 64),
		strconv.FormatFloat(inc.TTLHours, 'f', -1, 64),
		exp,
		inc.GeoBin,
	}
	if err := incrementScript.Run(ctx, s.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("heat increment %s: %w", inc.GeoBin, err)
	}
	return nil
}

func (s *RedisHeatStore) Live(ctx context.Context, city string, now time.Time) ([]model.HeatBin, error) {
	idx := s.indexKey(city)
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	// Index entries for expired bins are dropped lazily here.
	if err := s.rdb.ZRemRangeByScore(ctx, idx, "-inf", nowMs).Err(); err != nil {
		return nil, fmt.Errorf("heat prune: %w", err)
	}
	bins, err := s.rdb.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: "(" + nowMs, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("heat index: %w", err)
	}
	if len(bins) == 0 {
		return []model.HeatBin{}, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(bins))
	for i, b := range bins {
		cmds[i] = pipe.HGetAll(ctx, s.binKey(city, b))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("heat read: %w", err)
	}
	out := make([]model.HeatBin, 0, len(bins))
	for i, b := range bins {
		hb, ok := parseBin(b, cmds[i].Val())
		if ok && now.Before(hb.ExpiresAt) {
			out = append(out, hb)
		}
	}
	return out, nil
}

func (s *RedisHeatStore) Heat(ctx context.Context, city, geoBin string, now time.Time) (float64, error) {
	vals, err := s.rdb.HMGet(ctx, s.binKey(city, geoBin), "heat", "expires_at").Result()
	if err != nil {
		return 0, fmt.Errorf("heat get: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, nil
	}
	exp, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if now.UnixMilli() >= exp {
		return 0, nil
	}
	heat, _ := strconv.ParseFloat(fmt.Sprint(vals[0]), 64)
	return heat, nil
}

func parseBin(bin string, m map[string]string) (model.HeatBin, bool) {
	if len(m) == 0 {
		return model.HeatBin{}, false
	}
	f := func(k string) float64 { v, _ := strconv.ParseFloat(m[k], 64); return v }
	exp, _ := strconv.ParseInt(m["expires_at"], 10, 64)
	return model.HeatBin{
		GeoBin:    bin,
		Source:    m["source"],
		City:      m["city"],
		Lat:       f("lat"),
		Lng:       f("lng"),
		HeatValue: f("heat"),
		TTLHours:  f("ttl_hours"),
		ExpiresAt: time.UnixMilli(exp).UTC(),
	}, true
}
