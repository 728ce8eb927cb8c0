package handler // handler defines http handlers

import (
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/beacon-signal-engine/internal/middleware"
    "github.com/iliyamo/beacon-signal-engine/internal/service"
)

// getUserID returns the authenticated user id set by the JWT middleware.
func getUserID(c echo.Context) (string, error) {
    if id := middleware.UserID(c); id != "" {
        return id, nil
    }
    return "", &service.Error{Code: service.CodeUnauthenticated, Message: "authentication required"}
}

// queryCoords reads optional lat/lng query parameters.  Both must be present
// and numeric, or both absent.
func queryCoords(c echo.Context) (*float64, *float64, bool) {
    latS, lngS := strings.TrimSpace(c.QueryParam("lat")), strings.TrimSpace(c.QueryParam("lng"))
    if latS == "" && lngS == "" {
        return nil, nil, true
    }
    lat, errLat := strconv.ParseFloat(latS, 64)
    lng, errLng := strconv.ParseFloat(lngS, 64)
    if errLat != nil || errLng != nil {
        return nil, nil, false
    }
    return &lat, &lng, true
}

// queryBool accepts 1/true/yes; anything else is false.
func queryBool(c echo.Context, name string) bool {
    switch strings.ToLower(strings.TrimSpace(c.QueryParam(name))) {
    case "1", "true", "yes":
        return true
    }
    return false
}
