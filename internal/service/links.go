package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
	"github.com/iliyamo/beacon-signal-engine/internal/repository"
	"github.com/iliyamo/beacon-signal-engine/internal/token"
)

// SignedScanPath is the route prefix signed links point at.
const SignedScanPath = "/v1/scan/signed/"

// MintedLink is a freshly signed shareable link.
type MintedLink struct {
	Token     string    `json:"token"`
	Path      string    `json:"path"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignLink signs a token for code expiring at exp.  baseURL may be empty.
func SignLink(s token.Signer, code, kind string, exp time.Time, baseURL string) (MintedLink, error) {
	tok, err := s.Sign(token.Payload{Code: code, Exp: exp.Unix(), Kind: kind})
	if err != nil {
		return MintedLink{}, err
	}
	l := MintedLink{Token: tok, Path: SignedScanPath + tok, ExpiresAt: time.Unix(exp.Unix(), 0).UTC()}
	if baseURL != "" {
		l.URL = strings.TrimRight(baseURL, "/") + l.Path
	}
	return l, nil
}

// LinkMinter mints signed links on behalf of beacon owners.
type LinkMinter struct {
	signer  token.Signer
	beacons BeaconStore
	cfg     config.EngineConfig
	now     func() time.Time
}

func NewLinkMinter(s token.Signer, beacons BeaconStore, cfg config.EngineConfig, now func() time.Time) *LinkMinter {
	if now == nil {
		now = time.Now
	}
	return &LinkMinter{signer: s, beacons: beacons, cfg: cfg, now: now}
}

// Mint signs a link for the beacon identified by code.  Only the owner may
// mint, ended beacons cannot be linked, and ttl must not exceed the
// configured maximum (zero picks the default).
func (m *LinkMinter) Mint(ctx context.Context, userID, code string, ttl time.Duration, kind string) (MintedLink, error) {
	if userID == "" {
		return MintedLink{}, fail(ErrUnauthenticated, "")
	}
	if ttl < 0 {
		return MintedLink{}, fail(ErrMalformed, "ttl must be positive")
	}
	if ttl == 0 {
		ttl = m.cfg.LinkDefaultTTL
	}
	if ttl > m.cfg.LinkMaxTTL {
		return MintedLink{}, fail(ErrMalformed, "ttl too long").withHint(fmt.Sprintf("maximum is %s", m.cfg.LinkMaxTTL))
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	b, err := m.beacons.GetByCode(cctx, strings.TrimSpace(code))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return MintedLink{}, fail(ErrNotFound, "unknown beacon")
	case err != nil:
		return MintedLink{}, storeErr("load beacon", err)
	case b.OwnerID != userID:
		return MintedLink{}, fail(ErrForbidden, "only the beacon owner can mint links")
	case b.Status == model.BeaconEnded:
		e := fail(ErrInactive, "beacon has ended")
		e.Status = b.Status
		return MintedLink{}, e
	}

	l, err := SignLink(m.signer, b.Code, kind, m.now().Add(ttl), m.cfg.PublicBaseURL)
	if err != nil {
		return MintedLink{}, fail(ErrMalformed, err.Error())
	}
	return l, nil
}
