package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/beacon-signal-engine/internal/service"
)

// statusFor maps a domain error code to its HTTP status.
func statusFor(code string) int {
    switch code {
    case service.CodeMalformed:
        return http.StatusBadRequest
    case service.CodeUnauthenticated:
        return http.StatusUnauthorized
    case service.CodeForbidden, service.CodeGateFailed, service.CodeInvalidSignature:
        return http.StatusForbidden
    case service.CodeNotFound:
        return http.StatusNotFound
    case service.CodeExpired, service.CodeInactive:
        return http.StatusGone
    case service.CodeNotStarted, service.CodeOutOfRange, service.CodeUnsupportedBeacon:
        return http.StatusUnprocessableEntity
    case service.CodeRateLimited:
        return http.StatusTooManyRequests
    default:
        return http.StatusInternalServerError
    }
}

// writeError renders err as the error envelope
// {"ok":false,"error":code,"message":...,"hint"?,"status"?}.
func writeError(c echo.Context, err error) error {
    e := service.AsError(err)
    body := echo.Map{"ok": false, "error": e.Code, "message": e.Message}
    if e.Hint != "" {
        body["hint"] = e.Hint
    }
    if e.Status != "" {
        body["status"] = e.Status
    }
    if e.Code == service.CodeStoreUnavailable {
        c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
    }
    return c.JSON(statusFor(e.Code), body)
}

func malformed(c echo.Context, msg string) error {
    return writeError(c, &service.Error{Code: service.CodeMalformed, Message: msg})
}
