package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// ErrInvalidAmount rejects non-positive grants.
var ErrInvalidAmount = errors.New("xp amount must be positive")

// XPRepo writes the append-only XP ledger.  Capped grants go through
// xp_daily_totals: one row per (user, beacon, UTC day) whose conditional
// upsert is the single atomic check-and-increment for the cap.
type XPRepo struct{ DB *sql.DB }

func NewXPRepo(db *sql.DB) *XPRepo { return &XPRepo{DB: db} }

// AwardCapped writes e only if today's total for (e.UserID, *e.BeaconID) plus
// e.Amount stays within cap.  It returns false, nil when the cap is already
// met.  Partial grants are never written.
//
// The upsert reports 1 affected row on insert, 2 when the total changed and 0
// when the IF kept the old value, so 0 means "cap reached".  The row lock
// taken by the upsert is held until commit, which serialises concurrent
// grants for the same pair.
func (r *XPRepo) AwardCapped(ctx context.Context, e model.XPLedgerEntry, cap int) (bool, error) {
	if e.Amount <= 0 {
		return false, ErrInvalidAmount
	}
	if e.BeaconID == nil {
		return false, errors.New("capped xp grant needs a beacon id")
	}
	if e.Amount > cap {
		return false, nil
	}
	day := e.CreatedAt.UTC().Format("2006-01-02")

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO xp_daily_totals (user_id, beacon_id, day, total) VALUES (?,?,?,?)
		 ON DUPLICATE KEY UPDATE total = IF(total + VALUES(total) <= ?, total + VALUES(total), total)`,
		e.UserID, *e.BeaconID, day, e.Amount, cap)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := insertLedger(ctx, tx, e); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Award writes an uncapped grant (e.g. for posting a signal).
func (r *XPRepo) Award(ctx context.Context, e model.XPLedgerEntry) error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertLedger(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// insertLedger appends the ledger row and bumps the denormalised total on
// the profile.  A user without a profile row still gets the ledger entry.
func insertLedger(ctx context.Context, tx *sql.Tx, e model.XPLedgerEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var meta interface{}
	if len(e.Meta) > 0 {
		meta = []byte(e.Meta)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO xp_ledger (user_id, beacon_id, reason, amount, meta, created_at) VALUES (?,?,?,?,?,?)",
		e.UserID, e.BeaconID, e.Reason, e.Amount, meta, createdAt.UTC()); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE profiles SET xp_total = xp_total + ? WHERE user_id = ?",
		e.Amount, e.UserID)
	return err
}
