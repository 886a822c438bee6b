// Package geo holds the coordinate helpers used to place events on the
// map: distances, validity, center/zoom estimation and proximity
// grouping. It has no knowledge of the event model beyond Locator.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
)

const (
	// EarthRadiusKm is the mean Earth radius used by DistanceKm.
	EarthRadiusKm = 6371.0

	// DefaultProximityKm is the grouping threshold when none is given.
	DefaultProximityKm = 50.0

	// RegionUnknown is returned by RegionOf outside every known box.
	RegionUnknown = "Unknown"
)

// Locator is anything with a latitude/longitude pair in degrees.
type Locator interface {
	Coordinates() (lat, lon float64)
}

// DistanceKm returns the great-circle distance between two points using
// the Haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// IsValidCoordinate reports whether lat/lon are real numbers inside
// [-90,90] and [-180,180]. NaN fails every comparison and is rejected.
func IsValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// OptimalZoom picks a coarse map zoom level from the spread of the
// given points. It is a step function, not a projection fit:
//
//	spread > 100 -> 1, > 50 -> 2, > 20 -> 3, > 10 -> 4, > 5 -> 5, else 6
func OptimalZoom[T Locator](items []T) int {
	switch len(items) {
	case 0:
		return 1
	case 1:
		return 6
	}

	minLat, minLon := math.Inf(1), math.Inf(1)
	maxLat, maxLon := math.Inf(-1), math.Inf(-1)
	for _, it := range items {
		lat, lon := it.Coordinates()
		minLat = math.Min(minLat, lat)
		maxLat = math.Max(maxLat, lat)
		minLon = math.Min(minLon, lon)
		maxLon = math.Max(maxLon, lon)
	}

	return zoomForSpread(math.Max(maxLat-minLat, maxLon-minLon))
}

func zoomForSpread(spread float64) int {
	switch {
	case spread > 100:
		return 1
	case spread > 50:
		return 2
	case spread > 20:
		return 3
	case spread > 10:
		return 4
	case spread > 5:
		return 5
	default:
		return 6
	}
}

// CenterPoint returns the arithmetic mean of the points as (lon, lat).
// This is not a spherical centroid and drifts for sets that straddle the
// antimeridian or sit near a pole. Empty input yields (0, 0).
func CenterPoint[T Locator](items []T) (lon, lat float64) {
	if len(items) == 0 {
		return 0, 0
	}
	var sumLat, sumLon float64
	for _, it := range items {
		la, lo := it.Coordinates()
		sumLat += la
		sumLon += lo
	}
	n := float64(len(items))
	return sumLon / n, sumLat / n
}

// GroupByProximity clusters items in one greedy pass. Each item not yet
// assigned opens a group as its seed; every later unassigned item within
// thresholdKm of that seed joins it. Distance is measured to the seed
// only, so two members of a group may be farther apart than thresholdKm,
// and the result depends on input order. Groups come out in seed order.
//
// A non-positive threshold falls back to DefaultProximityKm.
func GroupByProximity[T Locator](items []T, thresholdKm float64) [][]T {
	if thresholdKm <= 0 {
		thresholdKm = DefaultProximityKm
	}

	groups := make([][]T, 0)
	assigned := make([]bool, len(items))

	for i, seed := range items {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []T{seed}
		seedLat, seedLon := seed.Coordinates()

		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			lat, lon := items[j].Coordinates()
			if DistanceKm(seedLat, seedLon, lat, lon) <= thresholdKm {
				group = append(group, items[j])
				assigned[j] = true
			}
		}

		groups = append(groups, group)
	}

	return groups
}

// FormatCoordinates renders a point as "40.7128°N, 74.0060°W".
func FormatCoordinates(lat, lon float64) string {
	latDir := "N"
	if lat < 0 {
		latDir = "S"
	}
	lonDir := "E"
	if lon < 0 {
		lonDir = "W"
	}
	return fmt.Sprintf("%.4f°%s, %.4f°%s", math.Abs(lat), latDir, math.Abs(lon), lonDir)
}

// regionBoxes are checked in order; the first match wins.
var regionBoxes = []struct {
	name   string
	within func(lat, lon float64) bool
}{
	{"Europe", func(lat, lon float64) bool { return lat > 45 && lon > -10 && lon < 60 }},
	{"North America", func(lat, lon float64) bool { return lat > 25 && lat < 50 && lon > -125 && lon < -65 }},
	{"South America", func(lat, lon float64) bool { return lat > -40 && lat < 12 && lon > -85 && lon < -30 }},
	{"Asia-Pacific", func(lat, lon float64) bool { return lat > -35 && lat < 40 && lon > 95 && lon < 180 }},
	{"Africa", func(lat, lon float64) bool { return lat > -35 && lat < 40 && lon > 20 && lon < 55 }},
}

// RegionOf gives a rough continent label for a point. It is a handful of
// bounding boxes, not a geocoder.
func RegionOf(lat, lon float64) string {
	for _, box := range regionBoxes {
		if box.within(lat, lon) {
			return box.name
		}
	}
	return RegionUnknown
}

// MarkerColor derives a stable hsl() color from an event ID. The hash is
// the usual h*31+c over UTF-16 code units with the shift done in 32-bit
// arithmetic, and the hue keeps the sign of the hash.
func MarkerColor(id string) string {
	var hash float64
	for _, c := range utf16.Encode([]rune(id)) {
		shifted := int32(int64(hash)) << 5
		hash = float64(c) + (float64(shifted) - hash)
	}
	hue := math.Mod(hash, 360) + 0
	return "hsl(" + strconv.FormatFloat(hue, 'f', -1, 64) + ", 70%, 50%)"
}
