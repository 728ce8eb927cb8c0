package handler

import (
    "context"
    "encoding/json"
    "io"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/beacon-signal-engine/internal/geo"
    "github.com/iliyamo/beacon-signal-engine/internal/model"
    "github.com/iliyamo/beacon-signal-engine/internal/service"
)

// LinkMinter mints signed scan links for beacon owners.
type LinkMinter interface {
    Mint(ctx context.Context, userID, code string, ttl time.Duration, kind string) (service.MintedLink, error)
}

// HeatReader reads the live heat map of a city.
type HeatReader interface {
    Live(ctx context.Context, city string) ([]model.HeatBin, error)
}

// BeaconHandler serves owner link minting and the heat map.
type BeaconHandler struct {
    Links LinkMinter
    Heat  HeatReader
}

func NewBeaconHandler(links LinkMinter, heat HeatReader) *BeaconHandler {
    if links == nil || heat == nil {
        panic("nil dependency passed to NewBeaconHandler")
    }
    return &BeaconHandler{Links: links, Heat: heat}
}

type mintLinkRequest struct {
    TTLSeconds int64  `json:"ttl_seconds"`
    Kind       string `json:"kind"`
}

// MintLink handles POST /v1/beacons/:code/links.  The body is optional.
func (h *BeaconHandler) MintLink(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return writeError(c, err)
    }
    var req mintLinkRequest
    if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil && err != io.EOF {
        return malformed(c, "body must be a JSON object")
    }
    link, err := h.Links.Mint(c.Request().Context(), userID, c.Param("code"), time.Duration(req.TTLSeconds)*time.Second, req.Kind)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "ok":         true,
        "token":      link.Token,
        "path":       link.Path,
        "url":        link.URL,
        "expires_at": link.ExpiresAt,
    })
}

// Heatmap handles GET /v1/heatmap?city=.
func (h *BeaconHandler) Heatmap(c echo.Context) error {
    city := c.QueryParam("city")
    bins, err := h.Heat.Live(c.Request().Context(), city)
    if err != nil {
        return writeError(c, err)
    }
    if bins == nil {
        bins = []model.HeatBin{}
    }
    return c.JSON(http.StatusOK, echo.Map{"ok": true, "city": geo.CityKey(city), "bins": bins})
}
