package geo

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// Increment is one additive write to a heat bin.
type Increment struct {
	GeoBin    string
	Source    string
	City      string
	Lat       float64
	Lng       float64
	HeatValue float64
	TTLHours  float64
	Now       time.Time
}

// ExpiresAt is the refreshed expiry the write stores on the bin.
func (i Increment) ExpiresAt() time.Time {
	return i.Now.Add(time.Duration(i.TTLHours * float64(time.Hour)))
}

// HeatStore keeps heat bins.  Increment must be an atomic add.  Bins are
// never deleted explicitly: reads drop bins whose expiry has passed.
type HeatStore interface {
	Increment(ctx context.Context, inc Increment) error
	Live(ctx context.Context, city string, now time.Time) ([]model.HeatBin, error)
	Heat(ctx context.Context, city, geoBin string, now time.Time) (float64, error)
}

// CityKey normalises a city name for keys and comparisons.
func CityKey(city string) string {
	c := strings.ToLower(strings.TrimSpace(city))
	if c == "" {
		return Unknown
	}
	return c
}
