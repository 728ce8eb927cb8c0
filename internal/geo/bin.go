// Package geo buckets coordinates into fixed-size cells and keeps the
// decaying per-cell heat used by the heat map.
//
// Binning is flat-degree: latitude and longitude are rounded independently
// to cellMeters/111320 degrees, with no latitude correction.  Cells get
// narrower east-west away from the equator; that is accepted for a service
// concentrated in a handful of cities.
package geo

import (
	"fmt"
	"math"
)

// Unknown is the bin of absent or out-of-range coordinates.
const Unknown = "unknown"

// metersPerDegree at the equator.
const metersPerDegree = 111320.0

// Cell is a resolved bin.
type Cell struct {
	Key string
	Lat float64 // representative (rounded) latitude
	Lng float64 // representative (rounded) longitude
}

// Bin returns the stable key of the cell containing (lat, lng).
func Bin(lat, lng float64, cellMeters int) string {
	return Locate(&lat, &lng, cellMeters).Key
}

// Locate is Bin for optional coordinates, also returning the cell center.
// Missing, non-finite or out-of-range input lands in Unknown.
func Locate(lat, lng *float64, cellMeters int) Cell {
	if lat == nil || lng == nil || !valid(*lat, *lng) || cellMeters <= 0 {
		return Cell{Key: Unknown}
	}
	step := float64(cellMeters) / metersPerDegree
	rlat := round(*lat, step)
	rlng := round(*lng, step)
	return Cell{
		Key: fmt.Sprintf("%d:%.5f:%.5f", cellMeters, rlat, rlng),
		Lat: rlat,
		Lng: rlng,
	}
}

func valid(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func round(v, step float64) float64 {
	r := math.Round(v/step) * step
	// -0 and +0 must format the same.
	return r + 0
}

// DistanceMeters is the haversine distance between two points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}
