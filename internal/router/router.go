package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/beacon-signal-engine/internal/handler"
	"github.com/iliyamo/beacon-signal-engine/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db *sql.DB, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db, rdb))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterScan registers the scan routes.  A bearer token is optional on
// both; throttle is the per-client token bucket.
func RegisterScan(e *echo.Echo, h *handler.ScanHandler, jwtSecret string, throttle echo.MiddlewareFunc) {
	g := e.Group("/v1/scan", throttle, middleware.OptionalJWT(jwtSecret))
	g.GET("/signed/:token", h.Signed)
	g.GET("/:code", h.Organic)
}

// RegisterSignals registers the "Right Now" feed.  Reading the feed and the
// live stream is public; creating and deleting require a valid JWT.
func RegisterSignals(e *echo.Echo, h *handler.SignalHandler, jwtSecret string) {
	e.GET("/v1/signals", h.List)
	e.GET("/v1/signals/stream", h.Stream)
	e.GET("/v1/signals/:id", h.Get)

	auth := e.Group("/v1/signals", middleware.JWTAuth(jwtSecret))
	auth.POST("", h.Create)
	auth.DELETE("/:id", h.Delete)
}

// RegisterBeacons registers owner link minting and the cached heat map.
func RegisterBeacons(e *echo.Echo, h *handler.BeaconHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	e.GET("/v1/heatmap", h.Heatmap, cache)
	e.POST("/v1/beacons/:code/links", h.MintLink, middleware.JWTAuth(jwtSecret))
}
