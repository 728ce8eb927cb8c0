package utils // package utils provides helpers for minting bearer tokens

import (
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed HS256 bearer token along with its expiry.
type AccessToken struct {
    Token string    `json:"token"`      // the serialized JWT string
    Exp   time.Time `json:"expires_at"` // the UTC expiration time
}

// NewAccessToken signs an HS256 JWT whose subject is userID.  The engine only
// verifies bearer tokens; this helper exists for the beacon-link CLI (local
// testing against a dev server) and for handler tests.
func NewAccessToken(secret, userID string, ttl time.Duration) (AccessToken, error) {
    if secret == "" || userID == "" {
        return AccessToken{}, errors.New("secret and user id are required")
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.RegisteredClaims{
        Subject:   userID,
        IssuedAt:  jwt.NewNumericDate(now),
        ExpiresAt: jwt.NewNumericDate(exp),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
