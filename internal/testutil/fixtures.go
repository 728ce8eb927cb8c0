package testutil

import (
	"sync"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/config"
	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// TestSecret signs tokens in tests.
const TestSecret = "test-signing-secret"

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// EngineConfig returns the production defaults.
func EngineConfig() config.EngineConfig {
	return config.EngineConfig{
		PostTTL:         60 * time.Minute,
		HeatTTL:         2 * time.Hour,
		GeoCellMeters:   250,
		StoreTimeout:    time.Second,
		FanoutBuffer:    16,
		FanoutTimeout:   time.Second,
		LinkDefaultTTL:  15 * time.Minute,
		LinkMaxTTL:      7 * 24 * time.Hour,
		NearPartyHeat:   10,
		ScanHeatValue:   1,
		SignalHeatValue: 1,
	}
}

// SignalLimits returns the production tier caps.
func SignalLimits() config.SignalLimits {
	return config.ParseSignalLimits("free:5:20,plus:15:60,chrome:60:240", "rl:signal")
}

// Checkin returns an active presence/checkin beacon with no geo or time
// constraints.
func Checkin(code string) model.Beacon {
	return model.Beacon{
		ID: 1, Code: code, Type: "presence", Subtype: "checkin", OwnerID: "owner-1",
		Title: "The Vault", GeoMode: model.GeoNone, City: "London",
		XPBase: 10, XPCapPerUserPerDay: 30, Status: model.BeaconActive,
	}
}

// EligibleProfile returns a profile that passes the posting gate.
func EligibleProfile(userID, city string) model.Profile {
	dob := time.Date(1995, 6, 1, 0, 0, 0, 0, time.UTC)
	return model.Profile{
		UserID: userID, DisplayName: "U", Gender: "man", DateOfBirth: &dob, City: city,
		ProfileComplete: true, MembershipTier: "free",
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
