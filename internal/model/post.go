package model

import (
    "strings"
    "time"
)

// Post modes (closed set).
const (
    ModeHookup = "hookup"
    ModeCrowd  = "crowd"
    ModeDrop   = "drop"
    ModeTicket = "ticket"
    ModeRadio  = "radio"
    ModeCare   = "care"
)

// Safety flags understood by the ranking and the safeOnly filter.
const (
    FlagVerifiedHost = "verified_host"
    FlagNearParty    = "near_party"
    FlagHighRisk     = "high_risk"
)

var modes = map[string]bool{
    ModeHookup: true, ModeCrowd: true, ModeDrop: true,
    ModeTicket: true, ModeRadio: true, ModeCare: true,
}

// ValidMode reports whether m belongs to the closed mode set.
func ValidMode(m string) bool { return modes[m] }

// EphemeralPost is a "Right Now" signal.  It disappears from the feed when
// DeletedAt is set or ExpiresAt passes, and is never hard-deleted.
type EphemeralPost struct {
    ID             string     `json:"id"`
    UserID         string     `json:"user_id"`
    Mode           string     `json:"mode"`
    Headline       string     `json:"headline"`
    Body           string     `json:"body,omitempty"`
    City           string     `json:"city"`
    Lat            *float64   `json:"lat,omitempty"`
    Lng            *float64   `json:"lng,omitempty"`
    GeoBin         string     `json:"geo_bin"`
    MembershipTier string     `json:"membership_tier"`
    XPBand         string     `json:"xp_band"`
    SafetyFlags    []string   `json:"safety_flags"`
    CreatedAt      time.Time  `json:"created_at"`
    ExpiresAt      time.Time  `json:"expires_at"`
    DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the post is visible at now.
func (p EphemeralPost) Live(now time.Time) bool {
    return p.DeletedAt == nil && now.Before(p.ExpiresAt)
}

// HasFlag reports whether flag is set on the post.
func (p EphemeralPost) HasFlag(flag string) bool {
    for _, f := range p.SafetyFlags {
        if f == flag {
            return true
        }
    }
    return false
}

// RankedPost is a live post with its feed score.
type RankedPost struct {
    EphemeralPost
    Score float64 `json:"score"`
}

// PostFilter narrows List.  City matches case-insensitively.
type PostFilter struct {
    City     string
    Mode     string
    SafeOnly bool
}

// Matches applies the filter to a single post.
func (f PostFilter) Matches(p EphemeralPost) bool {
    if f.City != "" && !strings.EqualFold(strings.TrimSpace(f.City), p.City) {
        return false
    }
    if f.Mode != "" && f.Mode != p.Mode {
        return false
    }
    if f.SafeOnly && p.HasFlag(FlagHighRisk) {
        return false
    }
    return true
}
