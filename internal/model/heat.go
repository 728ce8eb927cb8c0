package model

import "time"

// Heat sources.
const (
    HeatSourceScan     = "scan"
    HeatSourceRightNow = "right_now"
)

// HeatBin is an additive, TTL-bounded density counter for one geo bin.
type HeatBin struct {
    GeoBin    string    `json:"geo_bin"`
    Source    string    `json:"source"`
    City      string    `json:"city"`
    Lat       float64   `json:"lat"`
    Lng       float64   `json:"lng"`
    HeatValue float64   `json:"heat_value"`
    TTLHours  float64   `json:"ttl_hours"`
    ExpiresAt time.Time `json:"expires_at"`
}
