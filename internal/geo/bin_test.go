package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBin_deterministic(t *testing.T) {
	a := Bin(51.50735, -0.12776, 250)
	b := Bin(51.50735, -0.12776, 250)
	assert.Equal(t, a, b)
	assert.Equal(t, "250:51.50692:-0.12801", a)
}

func TestBin_sameCellForNearbyPoints(t *testing.T) {
	step := 250 / metersPerDegree
	base := 40 * step // exactly on a cell center
	assert.Equal(t, Bin(base, base, 250), Bin(base+step*0.3, base-step*0.3, 250))
	assert.NotEqual(t, Bin(base, base, 250), Bin(base+step, base, 250))
}

func TestBin_cellSizeIsPartOfKey(t *testing.T) {
	assert.NotEqual(t, Bin(51.5, -0.1, 250), Bin(51.5, -0.1, 500))
}

func TestBin_negativeZeroFormatsLikeZero(t *testing.T) {
	assert.Equal(t, Bin(0.0001, 0.0001, 250), Bin(-0.0001, -0.0001, 250))
	assert.Equal(t, "250:0.00000:0.00000", Bin(-0.0001, -0.0001, 250))
}

func TestLocate_unknown(t *testing.T) {
	lat, lng := 51.5, -0.1
	bad := []struct {
		name     string
		lat, lng *float64
	}{
		{"missing lat", nil, &lng},
		{"missing lng", &lat, nil},
		{"lat out of range", ptr(91), &lng},
		{"lng out of range", &lat, ptr(-181)},
		{"nan", ptr(math.NaN()), &lng},
		{"inf", &lat, ptr(math.Inf(1))},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Unknown, Locate(tc.lat, tc.lng, 250).Key)
		})
	}
	assert.Equal(t, Unknown, Locate(&lat, &lng, 0).Key)
}

func TestLocate_returnsCellCenter(t *testing.T) {
	c := Locate(ptr(51.50735), ptr(-0.12776), 250)
	assert.InDelta(t, 51.50735, c.Lat, 250/metersPerDegree)
	assert.InDelta(t, -0.12776, c.Lng, 250/metersPerDegree)
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 0, DistanceMeters(51.5, -0.1, 51.5, -0.1), 1e-6)
	// one degree of latitude
	assert.InDelta(t, 111195, DistanceMeters(0, 0, 1, 0), 50)
}

func ptr(f float64) *float64 { return &f }
