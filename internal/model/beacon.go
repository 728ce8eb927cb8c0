package model

import (
    "encoding/json"
    "time"
)

// Beacon statuses.  A beacon moves draft -> active -> paused -> ended and
// never leaves ended.
const (
    BeaconDraft  = "draft"
    BeaconActive = "active"
    BeaconPaused = "paused"
    BeaconEnded  = "ended"
)

// Geo modes control the proximity check at scan time.
const (
    GeoNone        = "none"
    GeoVenue       = "venue"
    GeoCity        = "city"
    GeoExactFuzzed = "exact_fuzzed"
)

// Beacon is a registered scannable waypoint.  Rows are owned by the admin
// workflow; this service only reads them.
//
// Fields:
//  ID                 – beacons.id
//  Code               – public, unique, human-shareable code
//  Type / Subtype     – closed taxonomy, e.g. presence/checkin, social/room
//  OwnerID            – user that created the beacon
//  GeoMode            – none | venue | city | exact_fuzzed
//  GeoLat/GeoLng      – optional center
//  GeoRadiusM         – optional radius in meters around the center
//  City               – city the beacon belongs to (used for heat bins)
//  StartsAt / EndsAt  – optional time window
//  XPBase             – XP granted per qualifying scan
//  XPCapPerUserPerDay – XP ceiling per (user, beacon) per day
//  Payload            – subtype-specific references (ticket id, room id...)
//  Status             – draft | active | paused | ended
type Beacon struct {
    ID                 uint64          `json:"id"`
    Code               string          `json:"code"`
    Type               string          `json:"type"`
    Subtype            string          `json:"subtype"`
    OwnerID            string          `json:"owner_id"`
    Title              string          `json:"title"`
    GeoMode            string          `json:"geo_mode"`
    GeoLat             *float64        `json:"geo_lat,omitempty"`
    GeoLng             *float64        `json:"geo_lng,omitempty"`
    GeoRadiusM         *float64        `json:"geo_radius_m,omitempty"`
    City               string          `json:"city,omitempty"`
    StartsAt           *time.Time      `json:"starts_at,omitempty"`
    EndsAt             *time.Time      `json:"ends_at,omitempty"`
    XPBase             int             `json:"xp_base"`
    XPCapPerUserPerDay int             `json:"xp_cap_per_user_per_day"`
    Payload            json.RawMessage `json:"payload,omitempty"`
    Status             string          `json:"status"`
    CreatedAt          time.Time       `json:"created_at"`
    UpdatedAt          time.Time       `json:"updated_at"`
}

// Kind is the (type, subtype) pair used to pick a scan handler.
type Kind struct {
    Type    string
    Subtype string
}

func (k Kind) String() string { return k.Type + "/" + k.Subtype }

// Kind returns the dispatch key of the beacon.
func (b Beacon) Kind() Kind { return Kind{Type: b.Type, Subtype: b.Subtype} }

// PublicBeacon is the subset of a beacon returned to scanners.
type PublicBeacon struct {
    Code    string `json:"code"`
    Type    string `json:"type"`
    Subtype string `json:"subtype"`
    Title   string `json:"title,omitempty"`
    City    string `json:"city,omitempty"`
}

func (b Beacon) Public() PublicBeacon {
    return PublicBeacon{Code: b.Code, Type: b.Type, Subtype: b.Subtype, Title: b.Title, City: b.City}
}
