package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// PostRepo persists "Right Now" signals in ephemeral_posts.  Rows are never
// hard-deleted: visibility is decided by expires_at and deleted_at.
type PostRepo struct{ DB *sql.DB }

func NewPostRepo(db *sql.DB) *PostRepo { return &PostRepo{DB: db} }

const postColumns = `id, user_id, mode, headline, body, city, lat, lng, geo_bin,
	membership_tier, xp_band, safety_flags, created_at, expires_at, deleted_at`

// Create inserts p.  p.ID must already be set.
func (r *PostRepo) Create(ctx context.Context, p model.EphemeralPost) error {
	flags := p.SafetyFlags
	if flags == nil {
		flags = []string{}
	}
	rawFlags, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO ephemeral_posts (`+postColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,NULL)`,
		p.ID, p.UserID, p.Mode, p.Headline, nullString(p.Body), p.City, p.Lat, p.Lng, p.GeoBin,
		p.MembershipTier, p.XPBand, rawFlags, p.CreatedAt.UTC(), p.ExpiresAt.UTC())
	return err
}

// GetByID returns the post regardless of its visibility, or ErrNotFound.
func (r *PostRepo) GetByID(ctx context.Context, id string) (model.EphemeralPost, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+postColumns+" FROM ephemeral_posts WHERE id = ? LIMIT 1", id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EphemeralPost{}, ErrNotFound
	}
	return p, err
}

// ListLive returns every post that is neither deleted nor expired at now,
// newest first.  There is no page cut: ranking happens over the whole live
// set, which expires_at keeps small.
func (r *PostRepo) ListLive(ctx context.Context, f model.PostFilter, now time.Time) ([]model.EphemeralPost, error) {
	var (
		where = []string{"expires_at > ?", "deleted_at IS NULL"}
		args  = []interface{}{now.UTC()}
	)
	if c := strings.TrimSpace(f.City); c != "" {
		where = append(where, "LOWER(city) = LOWER(?)")
		args = append(args, c)
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, f.Mode)
	}
	if f.SafeOnly {
		where = append(where, "NOT JSON_CONTAINS(safety_flags, JSON_QUOTE(?))")
		args = append(args, model.FlagHighRisk)
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+postColumns+" FROM ephemeral_posts WHERE "+strings.Join(where, " AND ")+
			" ORDER BY created_at DESC, seq DESC",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.EphemeralPost, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// SoftDelete sets deleted_at on a post owned by userID.  A missing or already
// deleted post is ErrNotFound, someone else's post is ErrForbidden.  The
// conditional UPDATE is the only write, so a lost race with another delete
// reports ErrNotFound rather than deleting twice.
func (r *PostRepo) SoftDelete(ctx context.Context, id, userID string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE ephemeral_posts SET deleted_at = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL",
		now.UTC(), id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var (
		owner     string
		deletedAt sql.NullTime
	)
	err = r.DB.QueryRowContext(ctx,
		"SELECT user_id, deleted_at FROM ephemeral_posts WHERE id = ? LIMIT 1", id,
	).Scan(&owner, &deletedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	case deletedAt.Valid:
		return ErrNotFound
	case owner != userID:
		return ErrForbidden
	}
	return ErrNotFound
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(s rowScanner) (model.EphemeralPost, error) {
	var (
		p         model.EphemeralPost
		body      sql.NullString
		lat, lng  sql.NullFloat64
		rawFlags  []byte
		deletedAt sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.Mode, &p.Headline, &body, &p.City, &lat, &lng, &p.GeoBin,
		&p.MembershipTier, &p.XPBand, &rawFlags, &p.CreatedAt, &p.ExpiresAt, &deletedAt); err != nil {
		return model.EphemeralPost{}, err
	}
	p.Body = body.String
	p.Lat, p.Lng = floatPtr(lat), floatPtr(lng)
	p.DeletedAt = timePtr(deletedAt)
	p.CreatedAt, p.ExpiresAt = p.CreatedAt.UTC(), p.ExpiresAt.UTC()
	p.SafetyFlags = []string{}
	if len(rawFlags) > 0 {
		if err := json.Unmarshal(rawFlags, &p.SafetyFlags); err != nil {
			return model.EphemeralPost{}, err
		}
	}
	return p, nil
}
