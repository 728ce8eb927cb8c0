package model

import (
    "encoding/json"
    "time"
)

// XPLedgerEntry is an append-only grant of experience points.  BeaconID is
// nil for grants that do not come from a beacon (e.g. posting a signal).
type XPLedgerEntry struct {
    ID        uint64
    UserID    string
    BeaconID  *uint64
    Reason    string
    Amount    int
    Meta      json.RawMessage
    CreatedAt time.Time
}

// XP reasons written to the ledger.
const (
    XPReasonBeaconScan = "beacon_scan"
    XPReasonRightNow   = "right_now_post"
)
