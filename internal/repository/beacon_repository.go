package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// BeaconRepo reads the beacons table.  Beacon definitions are owned by the
// admin workflow, so there are no write methods here.
type BeaconRepo struct{ DB *sql.DB }

func NewBeaconRepo(db *sql.DB) *BeaconRepo { return &BeaconRepo{DB: db} }

const beaconColumns = `id, code, type, subtype, owner_id, title, geo_mode, geo_lat, geo_lng,
	geo_radius_m, city, starts_at, ends_at, xp_base, xp_cap_per_user_per_day, payload,
	status, created_at, updated_at`

// GetByCode fetches a beacon by its public code.  Returns ErrNotFound when no
// row matches.
func (r *BeaconRepo) GetByCode(ctx context.Context, code string) (model.Beacon, error) {
	var (
		b                model.Beacon
		lat, lng, radius sql.NullFloat64
		startsAt, endsAt sql.NullTime
		payload          []byte
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+beaconColumns+" FROM beacons WHERE code = ? LIMIT 1",
		strings.TrimSpace(code),
	).Scan(&b.ID, &b.Code, &b.Type, &b.Subtype, &b.OwnerID, &b.Title, &b.GeoMode, &lat, &lng,
		&radius, &b.City, &startsAt, &endsAt, &b.XPBase, &b.XPCapPerUserPerDay, &payload,
		&b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Beacon{}, ErrNotFound
	}
	if err != nil {
		return model.Beacon{}, err
	}
	b.GeoLat, b.GeoLng, b.GeoRadiusM = floatPtr(lat), floatPtr(lng), floatPtr(radius)
	b.StartsAt, b.EndsAt = timePtr(startsAt), timePtr(endsAt)
	if len(payload) > 0 {
		b.Payload = payload
	}
	return b, nil
}
