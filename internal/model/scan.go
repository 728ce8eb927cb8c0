package model

import "time"

// Scan sources.
const (
    SourceOrganic = "organic"
    SourceSigned  = "signed"
)

// ScanEvent is the immutable audit record of one verified scan.  UserID is
// empty for anonymous scans.
type ScanEvent struct {
    ID          uint64
    BeaconID    uint64
    UserID      string
    OccurredAt  time.Time
    Lat         *float64
    Lng         *float64
    InsideVenue bool
    Source      string
    Action      string
    XPAwarded   int
}
