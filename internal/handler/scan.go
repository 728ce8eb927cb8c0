package handler

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/beacon-signal-engine/internal/middleware"
    "github.com/iliyamo/beacon-signal-engine/internal/service"
)

// Scanner is the scan dispatcher as seen by HTTP.
type Scanner interface {
    HandleScan(ctx context.Context, req service.ScanRequest) (service.ScanResult, error)
}

// ScanHandler serves organic and signed scans.  Both routes accept an
// optional bearer token; anonymous scans render but earn no XP.
type ScanHandler struct {
    Scans Scanner
}

func NewScanHandler(s Scanner) *ScanHandler {
    if s == nil {
        panic("nil scanner passed to NewScanHandler")
    }
    return &ScanHandler{Scans: s}
}

// Organic handles GET /v1/scan/:code?lat=&lng=.
func (h *ScanHandler) Organic(c echo.Context) error {
    return h.scan(c, service.ScanRequest{Code: c.Param("code")})
}

// Signed handles GET /v1/scan/signed/:token?lat=&lng=.
func (h *ScanHandler) Signed(c echo.Context) error {
    return h.scan(c, service.ScanRequest{Token: c.Param("token")})
}

func (h *ScanHandler) scan(c echo.Context, req service.ScanRequest) error {
    lat, lng, ok := queryCoords(c)
    if !ok {
        return malformed(c, "lat and lng must both be numbers")
    }
    req.Lat, req.Lng = lat, lng
    req.UserID = middleware.UserID(c)

    res, err := h.Scans.HandleScan(c.Request().Context(), req)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, res)
}
