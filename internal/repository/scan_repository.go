package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// ScanRepo appends to the scan_events audit trail.  Rows are never updated.
type ScanRepo struct{ DB *sql.DB }

func NewScanRepo(db *sql.DB) *ScanRepo { return &ScanRepo{DB: db} }

// Append inserts ev and returns its id.
func (r *ScanRepo) Append(ctx context.Context, ev model.ScanEvent) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO scan_events (beacon_id, user_id, occurred_at, lat, lng, inside_venue, source, action, xp_awarded)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.BeaconID, ev.UserID, ev.OccurredAt.UTC(), ev.Lat, ev.Lng, ev.InsideVenue, ev.Source, ev.Action, ev.XPAwarded)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}
