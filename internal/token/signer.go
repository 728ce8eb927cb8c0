// Package token mints and verifies signed location tokens: stateless,
// HMAC-authenticated, time-boxed capabilities that stand in for a beacon
// code on shareable links and printed QR codes.
//
// Wire format (must stay bit-exact so printed codes keep scanning):
//
//	base64url(JSON{code, nonce, exp, kind?}) "." base64url(HMAC-SHA256(secret, payloadSegment)) ["." ext]
//
// The HMAC is computed over the encoded payload segment exactly as it
// appears in the token, so verification never re-serialises JSON.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
)

// Payload is the signed body of a location token.
type Payload struct {
	Code  string `json:"code"`
	Nonce string `json:"nonce"`
	Exp   int64  `json:"exp"`
	Kind  string `json:"kind,omitempty"`
}

// ExpiresAt converts Exp to a time.
func (p Payload) ExpiresAt() time.Time { return time.Unix(p.Exp, 0).UTC() }

// Signer signs and verifies location tokens.  It is constructed once at
// process start and passed to whoever needs it.
type Signer interface {
	Sign(p Payload) (string, error)
	Verify(tok string, now time.Time) (Payload, error)
}

// HMACSigner is the HMAC-SHA256 Signer.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner panics on an empty secret: running without one would accept
// tokens signed with the empty key.
func NewHMACSigner(secret string) *HMACSigner {
	if secret == "" {
		panic("token: empty signing secret")
	}
	return &HMACSigner{secret: []byte(secret)}
}

var enc = base64.RawURLEncoding

// Sign encodes p and appends its signature.  A missing nonce is filled with a
// random UUID.
func (s *HMACSigner) Sign(p Payload) (string, error) {
	if strings.TrimSpace(p.Code) == "" || p.Exp <= 0 {
		return "", ErrMalformed
	}
	if p.Nonce == "" {
		p.Nonce = uuid.NewString()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	seg := enc.EncodeToString(body)
	return seg + "." + enc.EncodeToString(s.mac(seg)), nil
}

// Verify checks shape, expiry and signature, in that order.  An expired
// token reports ErrExpired whether or not its signature is valid so clients
// can tell "this used to work" apart from tampering on live tokens.
func (s *HMACSigner) Verify(tok string, now time.Time) (Payload, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Payload{}, ErrMalformed
	}
	body, err := decodeSegment(parts[0])
	if err != nil {
		return Payload{}, ErrMalformed
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, ErrMalformed
	}
	if strings.TrimSpace(p.Code) == "" || p.Exp <= 0 {
		return Payload{}, ErrMalformed
	}
	if p.Exp < now.Unix() {
		return Payload{}, ErrExpired
	}
	sig, err := decodeSegment(parts[1])
	if err != nil {
		return Payload{}, ErrInvalidSignature
	}
	if !hmac.Equal(sig, s.mac(parts[0])) {
		return Payload{}, ErrInvalidSignature
	}
	return p, nil
}

func (s *HMACSigner) mac(seg string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(seg))
	return m.Sum(nil)
}

// decodeSegment accepts both padded and unpadded base64url.
func decodeSegment(seg string) ([]byte, error) {
	return enc.DecodeString(strings.TrimRight(seg, "="))
}
