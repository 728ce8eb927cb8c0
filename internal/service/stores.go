// Package service implements the engine's write paths: the scan dispatcher
// that turns a beacon scan into XP, an audit event and heat, and the
// ephemeral signal feed.
//
// Stores are consumed through the small interfaces below.  MySQL
// implementations live in internal/repository, in-memory ones for tests in
// internal/testutil.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// BeaconStore reads beacon definitions.  Must return repository.ErrNotFound
// for unknown codes.
type BeaconStore interface {
	GetByCode(ctx context.Context, code string) (model.Beacon, error)
}

// ProfileStore reads user profiles.  Must return repository.ErrNotFound for
// unknown users.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
}

// XPStore writes the XP ledger.  AwardCapped is an atomic check-and-write
// against the (user, beacon, day) cap and reports whether the grant was
// written.
type XPStore interface {
	AwardCapped(ctx context.Context, e model.XPLedgerEntry, cap int) (bool, error)
	Award(ctx context.Context, e model.XPLedgerEntry) error
}

// ScanLog appends scan audit events.
type ScanLog interface {
	Append(ctx context.Context, ev model.ScanEvent) (uint64, error)
}

// PostStore persists ephemeral posts.  SoftDelete must return
// repository.ErrNotFound or repository.ErrForbidden as appropriate.
type PostStore interface {
	Create(ctx context.Context, p model.EphemeralPost) error
	GetByID(ctx context.Context, id string) (model.EphemeralPost, error)
	ListLive(ctx context.Context, f model.PostFilter, now time.Time) ([]model.EphemeralPost, error)
	SoftDelete(ctx context.Context, id, userID string, now time.Time) error
}

// Publisher receives every created post.  Publish must not block.
type Publisher interface {
	Publish(city string, post model.EphemeralPost)
}
