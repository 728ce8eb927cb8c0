package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/fanout"
	"github.com/iliyamo/beacon-signal-engine/internal/geo"
	"github.com/iliyamo/beacon-signal-engine/internal/handler"
	"github.com/iliyamo/beacon-signal-engine/internal/middleware"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/ratelimit"
	"github.com/iliyamo/beacon-signal-engine/internal/service"
	"github.com/iliyamo/beacon-signal-engine/internal/testutil"
	"github.com/iliyamo/beacon-signal-engine/internal/token"
	"github.com/iliyamo/beacon-signal-engine/internal/utils"
)

const jwtSecret = "router-test-jwt"

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

type app struct {
	e      *echo.Echo
	feed   *service.SignalFeed
	bus    *fanout.Bus
	hub    *fanout.Hub
	signer *token.HMACSigner
	clock  *testutil.Clock
}

func newApp(t *testing.T) *app {
	t.Helper()
	cfg := testutil.EngineConfig()
	clock := testutil.NewClock(t0)
	signer := token.NewHMACSigner(testutil.TestSecret)
	beacons := testutil.NewBeacons(testutil.Checkin("VAULT"))
	heat := geo.NewMemoryHeatStore()
	xp := testutil.NewXP()
	hub := fanout.NewHub()
	bus := fanout.NewBus(16, time.Second, hub)

	scans := service.NewScanDispatcher(service.ScanDeps{
		Signer: signer, Beacons: beacons, XP: xp, Scans: testutil.NewScans(), Heat: heat,
		Config: cfg, Now: clock.Now,
	})
	feed := service.NewSignalFeed(service.FeedDeps{
		Profiles: testutil.NewProfiles(testutil.EligibleProfile("u1", "London"), testutil.EligibleProfile("u2", "London")),
		Posts:    testutil.NewPosts(), XP: xp, Heat: heat,
		Limiter: ratelimit.NewMemoryLimiter(), Limits: testutil.SignalLimits(),
		Publisher: bus, Config: cfg, Now: clock.Now,
	})

	e := echo.New()
	e.Use(middleware.Metrics())
	RegisterRoutes(e, nil, nil)
	throttle := middleware.NewTokenBucket(config.RateLimitConfig{
		Enabled: true, Capacity: 100, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl:scan",
	}, nil, ratelimit.NewMemoryLimiter())
	RegisterScan(e, handler.NewScanHandler(scans), jwtSecret, throttle)
	sh := handler.NewSignalHandler(feed, hub)
	sh.Heartbeat = 50 * time.Millisecond
	RegisterSignals(e, sh, jwtSecret)
	RegisterBeacons(e, handler.NewBeaconHandler(
		service.NewLinkMinter(signer, beacons, cfg, clock.Now),
		service.NewHeatMap(heat, cfg, clock.Now),
	), jwtSecret, middleware.NewResponseCache(config.CacheConfig{}, nil))

	a := &app{e: e, feed: feed, bus: bus, hub: hub, signer: signer, clock: clock}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})
	return a
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (a *app) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestOperationalRoutes(t *testing.T) {
	a := newApp(t)
	rec := a.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	rec = a.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScanRoutes(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/v1/scan/VAULT", bearer(t, "u1"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, service.ActionCheckin, body["action"])
	assert.EqualValues(t, 10, body["xp_awarded"])

	rec = a.do(http.MethodGet, "/v1/scan/VAULT", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["xp_awarded"])

	rec = a.do(http.MethodGet, "/v1/scan/NOPE", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, service.CodeNotFound, body["error"])

	rec = a.do(http.MethodGet, "/v1/scan/VAULT?lat=abc&lng=1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/v1/scan/VAULT", "bad-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedScan_mintedLinkRoundTrip(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/v1/beacons/VAULT/links", bearer(t, "u1"), `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the owner mints")

	rec = a.do(http.MethodPost, "/v1/beacons/VAULT/links", bearer(t, "owner-1"), `{"ttl_seconds":600,"kind":"door"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	link := decode(t, rec)
	path := link["path"].(string)
	require.True(t, strings.HasPrefix(path, service.SignedScanPath))

	rec = a.do(http.MethodGet, path, bearer(t, "u1"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.SourceSigned, decode(t, rec)["source"])

	tok := link["token"].(string)
	dot := strings.IndexByte(tok, '.')
	flip := byte('A')
	if tok[dot+1] == 'A' {
		flip = 'B'
	}
	tampered := tok[:dot+1] + string(flip) + tok[dot+2:]
	rec = a.do(http.MethodGet, service.SignedScanPath+tampered, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, service.CodeInvalidSignature, decode(t, rec)["error"])

	a.clock.Advance(11 * time.Minute)
	rec = a.do(http.MethodGet, path, "", "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, service.CodeExpired, decode(t, rec)["error"])

	rec = a.do(http.MethodGet, service.SignedScanPath+"not-a-token", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalRoutes_lifecycle(t *testing.T) {
	a := newApp(t)
	create := `{"mode":"crowd","headline":"Warehouse til late","lat":51.50735,"lng":-0.12776}`

	rec := a.do(http.MethodPost, "/v1/signals", "", create)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/v1/signals", bearer(t, "u1"), `{"mode":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/signals", bearer(t, "u1"), create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	post := decode(t, rec)["post"].(map[string]interface{})
	id := post["id"].(string)
	assert.Equal(t, "London", post["city"])

	rec = a.do(http.MethodGet, "/v1/signals?city=london", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	posts := decode(t, rec)["posts"].([]interface{})
	require.Len(t, posts, 1)

	rec = a.do(http.MethodGet, "/v1/signals/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["post"].(map[string]interface{})["id"])

	rec = a.do(http.MethodGet, "/v1/signals?mode=rave", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodDelete, "/v1/signals/"+id, bearer(t, "u2"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodDelete, "/v1/signals/missing", bearer(t, "u1"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.do(http.MethodDelete, "/v1/signals/"+id, bearer(t, "u1"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/v1/signals?city=London", "", "")
	assert.Empty(t, decode(t, rec)["posts"])
	rec = a.do(http.MethodGet, "/v1/signals/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalRoutes_rateLimitedWithHint(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "u1")
	for i := 0; i < 5; i++ {
		rec := a.do(http.MethodPost, "/v1/signals", tok, `{"mode":"drop","headline":"merch drop"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := a.do(http.MethodPost, "/v1/signals", tok, `{"mode":"drop","headline":"merch drop"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, service.CodeRateLimited, body["error"])
	assert.Contains(t, body["message"], "hourly")
	assert.NotEmpty(t, body["hint"])
}

func TestHeatmapRoute(t *testing.T) {
	a := newApp(t)
	rec := a.do(http.MethodGet, "/v1/heatmap", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/signals", bearer(t, "u1"), `{"mode":"crowd","headline":"packed","lat":51.50735,"lng":-0.12776}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(http.MethodPost, "/v1/signals", bearer(t, "u1"), `{"mode":"drop","headline":"somewhere"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.feed.Wait(ctx))

	rec = a.do(http.MethodGet, "/v1/heatmap?city=London", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "london", body["city"])
	bins := body["bins"].([]interface{})
	require.Len(t, bins, 1, "the coordinate-less signal stays off the map")
	assert.NotEqual(t, "unknown", bins[0].(map[string]interface{})["geo_bin"])
	assert.EqualValues(t, 1, bins[0].(map[string]interface{})["heat_value"])
}

func TestSignalStream_deliversNewPosts(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/signals/stream?city=london", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	require.Equal(t, ": subscribed", <-lines)

	rec := a.do(http.MethodPost, "/v1/signals", bearer(t, "u1"), `{"mode":"radio","headline":"live set on now"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if strings.HasPrefix(l, "data: ") {
				assert.Contains(t, l, "live set on now")
				return
			}
		case <-deadline:
			t.Fatal("no signal event on the stream")
		}
	}
}
