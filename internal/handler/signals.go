package handler

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/beacon-signal-engine/internal/model"
    "github.com/iliyamo/beacon-signal-engine/internal/service"
)

// Feed is the signal feed as seen by HTTP.
type Feed interface {
    Create(ctx context.Context, in service.CreateInput) (model.EphemeralPost, error)
    List(ctx context.Context, filter model.PostFilter) ([]model.RankedPost, error)
    Get(ctx context.Context, postID string) (model.EphemeralPost, error)
    Delete(ctx context.Context, userID, postID string) error
}

// Streamer hands out city-scoped live subscriptions.
type Streamer interface {
    Subscribe(city string) (<-chan model.EphemeralPost, func())
}

// SignalHandler serves the "Right Now" feed and its live stream.
type SignalHandler struct {
    Feed      Feed
    Streams   Streamer // nil disables /signals/stream
    Heartbeat time.Duration
}

func NewSignalHandler(feed Feed, stream Streamer) *SignalHandler {
    if feed == nil {
        panic("nil feed passed to NewSignalHandler")
    }
    return &SignalHandler{Feed: feed, Streams: stream, Heartbeat: 15 * time.Second}
}

// createSignalRequest is the POST /v1/signals body.
type createSignalRequest struct {
    Mode     string   `json:"mode"`
    Headline string   `json:"headline"`
    Body     string   `json:"body"`
    City     string   `json:"city"`
    Lat      *float64 `json:"lat"`
    Lng      *float64 `json:"lng"`
}

// Create handles POST /v1/signals and answers 201 {ok, post}.
func (h *SignalHandler) Create(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return writeError(c, err)
    }
    var req createSignalRequest
    if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
        return malformed(c, "body must be a JSON object")
    }
    post, err := h.Feed.Create(c.Request().Context(), service.CreateInput{
        UserID:   userID,
        Mode:     req.Mode,
        Headline: req.Headline,
        Body:     req.Body,
        City:     req.City,
        Lat:      req.Lat,
        Lng:      req.Lng,
    })
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"ok": true, "post": post})
}

// List handles GET /v1/signals?city=&mode=&safeOnly=.
func (h *SignalHandler) List(c echo.Context) error {
    posts, err := h.Feed.List(c.Request().Context(), model.PostFilter{
        City:     c.QueryParam("city"),
        Mode:     c.QueryParam("mode"),
        SafeOnly: queryBool(c, "safeOnly"),
    })
    if err != nil {
        return writeError(c, err)
    }
    if posts == nil {
        posts = []model.RankedPost{}
    }
    return c.JSON(http.StatusOK, echo.Map{"ok": true, "posts": posts})
}

// Get handles GET /v1/signals/:id.
func (h *SignalHandler) Get(c echo.Context) error {
    post, err := h.Feed.Get(c.Request().Context(), c.Param("id"))
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"ok": true, "post": post})
}

// Delete handles DELETE /v1/signals/:id.
func (h *SignalHandler) Delete(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return writeError(c, err)
    }
    if err := h.Feed.Delete(c.Request().Context(), userID, c.Param("id")); err != nil {
        return writeError(c, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// Stream handles GET /v1/signals/stream?city= as Server-Sent Events.  Each new
// post in the city is sent as a "signal" event.  There is no replay.
func (h *SignalHandler) Stream(c echo.Context) error {
    if h.Streams == nil {
        return writeError(c, &service.Error{Code: service.CodeNotFound, Message: "live stream disabled"})
    }
    city := strings.TrimSpace(c.QueryParam("city"))
    if city == "" {
        return malformed(c, "city is required")
    }

    posts, cancel := h.Streams.Subscribe(city)
    defer cancel()

    w := c.Response()
    w.Header().Set(echo.HeaderContentType, "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.Header().Set("X-Accel-Buffering", "no")
    w.WriteHeader(http.StatusOK)
    fmt.Fprint(w, ": subscribed\n\n")
    w.Flush()

    beat := h.Heartbeat
    if beat <= 0 {
        beat = 15 * time.Second
    }
    ticker := time.NewTicker(beat)
    defer ticker.Stop()

    ctx := c.Request().Context()
    for {
        select {
        case <-ctx.Done():
            return nil
        case <-ticker.C:
            if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
                return nil
            }
            w.Flush()
        case p, ok := <-posts:
            if !ok {
                return nil
            }
            data, err := json.Marshal(p)
            if err != nil {
                continue
            }
            if _, err := fmt.Fprintf(w, "id: %s\nevent: signal\ndata: %s\n\n", p.ID, data); err != nil {
                return nil
            }
            w.Flush()
        }
    }
}
