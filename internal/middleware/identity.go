package middleware

// identity.go holds helpers shared across middleware files.

import "github.com/labstack/echo/v4"

// UserID returns the authenticated user id stored by JWTAuth or OptionalJWT,
// or "" for anonymous requests.
func UserID(c echo.Context) string {
    if s, ok := c.Get(ContextUserID).(string); ok {
        return s
    }
    return ""
}

// principal is UserID with a stable placeholder for anonymous callers, used
// in rate-limit keys.
func principal(c echo.Context) string {
    if id := UserID(c); id != "" {
        return id
    }
    return "anon"
}
