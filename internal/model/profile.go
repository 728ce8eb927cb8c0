package model

import "time"

// Profile is the subset of a user profile the engine reads: the gate
// attributes for posting and the ranking attributes copied onto each post.
type Profile struct {
    UserID          string
    DisplayName     string
    Gender          string
    DateOfBirth     *time.Time
    City            string
    ShadowBanned    bool
    ProfileComplete bool
    MembershipTier  string
    XPTotal         int
    Verified        bool
}

// AgeAt returns the age in whole years at now, or -1 without a date of birth.
func (p Profile) AgeAt(now time.Time) int {
    if p.DateOfBirth == nil {
        return -1
    }
    dob := p.DateOfBirth.UTC()
    now = now.UTC()
    age := now.Year() - dob.Year()
    if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
        age--
    }
    return age
}

// XP bands, lowest first.
const (
    BandNone    = "none"
    BandRookie  = "rookie"
    BandRegular = "regular"
    BandVeteran = "veteran"
    BandLegend  = "legend"
)

// XPBand buckets a running XP total.
func XPBand(total int) string {
    switch {
    case total >= 5000:
        return BandLegend
    case total >= 1500:
        return BandVeteran
    case total >= 300:
        return BandRegular
    case total > 0:
        return BandRookie
    default:
        return BandNone
    }
}
