package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/beacon-signal-engine/internal/service"
)

// ContextUserID is the echo context key holding the authenticated user id.
const ContextUserID = "user_id"

// JWTAuth returns an Echo middleware that requires a valid HS256 Bearer token
// and stores its subject under ContextUserID.  Tokens with any other
// algorithm, including "none", are rejected before the signature is checked.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := bearer(c)
            if !ok {
                return unauthenticated(c, "missing bearer token")
            }
            sub, err := verifySubject(raw, secret)
            if err != nil {
                return unauthenticated(c, "invalid token")
            }
            c.Set(ContextUserID, sub)
            return next(c)
        }
    }
}

// OptionalJWT authenticates when a Bearer token is present and lets anonymous
// requests through.  A present but invalid token is still a 401: clients
// must not silently fall back to anonymous after a bad refresh.
func OptionalJWT(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := bearer(c)
            if !ok {
                return next(c)
            }
            sub, err := verifySubject(raw, secret)
            if err != nil {
                return unauthenticated(c, "invalid token")
            }
            c.Set(ContextUserID, sub)
            return next(c)
        }
    }
}

func bearer(c echo.Context) (string, bool) {
    auth := c.Request().Header.Get("Authorization")
    if !strings.HasPrefix(auth, "Bearer ") {
        return "", false
    }
    raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
    return raw, raw != ""
}

// verifySubject parses raw with signature and expiry checks and returns the
// sub claim.
func verifySubject(raw, secret string) (string, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
    if err != nil || !tok.Valid {
        return "", echo.ErrUnauthorized
    }
    sub, err := tok.Claims.GetSubject()
    if err != nil || sub == "" {
        return "", echo.ErrUnauthorized
    }
    return sub, nil
}

func unauthenticated(c echo.Context, msg string) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{
        "ok":      false,
        "error":   service.CodeUnauthenticated,
        "message": msg,
    })
}
