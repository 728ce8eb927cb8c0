package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "database/sql"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
)

// Health is the liveness probe.  It returns a plain text "ok" with 200.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready reports whether the database answers, and whether Redis does when the
// engine runs with it.  Redis being absent is not a failure: the engine then
// runs on in-process stores.
func Ready(db *sql.DB, rdb *redis.Client) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        checks := echo.Map{"database": "ok", "redis": "disabled"}
        status := http.StatusOK
        if db == nil || db.PingContext(ctx) != nil {
            checks["database"] = "unavailable"
            status = http.StatusServiceUnavailable
        }
        if rdb != nil {
            checks["redis"] = "ok"
            if err := rdb.Ping(ctx).Err(); err != nil {
                checks["redis"] = "unavailable"
                status = http.StatusServiceUnavailable
            }
        }
        return c.JSON(status, echo.Map{"ok": status == http.StatusOK, "checks": checks})
    }
}
