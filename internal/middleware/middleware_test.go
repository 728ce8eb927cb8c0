package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/ratelimit"
	"github.com/iliyamo/beacon-signal-engine/internal/telemetry"
	"github.com/iliyamo/beacon-signal-engine/internal/utils"
)

const secret = "jwt-test-secret"

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, UserID(c))
}

func serve(e *echo.Echo, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newAuthEcho() *echo.Echo {
	e := echo.New()
	e.GET("/required", whoami, JWTAuth(secret))
	e.GET("/optional", whoami, OptionalJWT(secret))
	return e
}

func TestJWTAuth_validTokenSetsUserID(t *testing.T) {
	tok, err := utils.NewAccessToken(secret, "user-1", time.Hour)
	require.NoError(t, err)

	rec := serve(newAuthEcho(), http.MethodGet, "/required", tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestJWTAuth_rejects(t *testing.T) {
	wrong, _ := utils.NewAccessToken("other", "user-1", time.Hour)
	expired, _ := utils.NewAccessToken(secret, "user-1", -time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(secret))
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"wrong secret": wrong.Token,
		"expired":      expired.Token,
		"alg none":     none,
		"other alg":    hs512,
		"no exp":       noExp,
		"no sub":       noSub,
	}
	e := newAuthEcho()
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(e, http.MethodGet, "/required", tok)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"Unauthenticated"`)
		})
	}
}

func TestOptionalJWT(t *testing.T) {
	e := newAuthEcho()

	rec := serve(e, http.MethodGet, "/optional", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	tok, _ := utils.NewAccessToken(secret, "user-2", time.Hour)
	rec = serve(e, http.MethodGet, "/optional", tok.Token)
	assert.Equal(t, "user-2", rec.Body.String())

	rec = serve(e, http.MethodGet, "/optional", "tampered")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenBucket_memoryFallback(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: time.Hour, KeyStrategy: "ip", Prefix: "rl:test",
	}
	e := echo.New()
	e.GET("/v1/scan/:code", whoami, NewTokenBucket(cfg, nil, ratelimit.NewMemoryLimiter()))

	for i := 0; i < 2; i++ {
		rec := serve(e, http.MethodGet, "/v1/scan/C1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := serve(e, http.MethodGet, "/v1/scan/C2", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"error":"RateLimited"`)
}

func TestTokenBucket_disabledIsPassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, ratelimit.NewMemoryLimiter()))
	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
	}
}

func TestCacheKey_normalisesCity(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "cache:heat", KeyStrategy: "route_query"}
	e := echo.New()
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/heatmap")
		return cacheKeyFrom(cfg, c)
	}
	assert.Equal(t, key("/v1/heatmap?city=London"), key("/v1/heatmap?city=london"))
	assert.NotEqual(t, key("/v1/heatmap?city=london"), key("/v1/heatmap?city=berlin"))
	assert.Regexp(t, `^cache:heat:[0-9a-f]{40}$`, key("/v1/heatmap?city=london"))
}

func TestResponseCache_withoutRedisIsNoop(t *testing.T) {
	e := echo.New()
	calls := 0
	e.GET("/v1/heatmap", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"bins": []string{}})
	}, NewResponseCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil))

	serve(e, http.MethodGet, "/v1/heatmap?city=london", "")
	serve(e, http.MethodGet, "/v1/heatmap?city=london", "")
	assert.Equal(t, 2, calls)
}

func TestResponseCache_unreachableRedisDegradesToMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "10.255.255.1:6379", DialTimeout: 30 * time.Second, MaxRetries: -1})
	defer rdb.Close()

	e := echo.New()
	e.GET("/v1/heatmap", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"bins": []string{}})
	}, NewResponseCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute}, rdb))

	start := time.Now()
	rec := serve(e, http.MethodGet, "/v1/heatmap?city=london", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMetricsAndTracing_passThrough(t *testing.T) {
	e := echo.New()
	e.Use(Tracing(telemetry.NoopTracer()), Metrics())
	e.GET("/ok", whoami)
	e.GET("/boom", func(echo.Context) error { return echo.NewHTTPError(http.StatusTeapot) })

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/ok", "").Code)
	assert.Equal(t, http.StatusTeapot, serve(e, http.MethodGet, "/boom", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/missing", "").Code)
}
