package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// ProfileRepo reads the profiles table.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

// GetProfile fetches the profile of userID, or ErrNotFound.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var (
		p   model.Profile
		dob sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, display_name, gender, date_of_birth, city, shadow_banned,
		        profile_complete, membership_tier, xp_total, verified
		   FROM profiles WHERE user_id = ? LIMIT 1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Gender, &dob, &p.City, &p.ShadowBanned,
		&p.ProfileComplete, &p.MembershipTier, &p.XPTotal, &p.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, err
	}
	p.DateOfBirth = timePtr(dob)
	return p, nil
}
