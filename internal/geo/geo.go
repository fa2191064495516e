package geo

import (
	"fmt"
	"math"
)

const (
	earthRadiusKm = 6371.0
	kmPerMile     = 1.609344

	// DefaultAvgSpeedKmh is the city speed assumed by EstimatedMinutes.
	DefaultAvgSpeedKmh = 50.0
)

// Coordinate is a resolved latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports coordinates outside [-90,90] x [-180,180].
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("coordinate is not a number")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %f out of range", c.Lon)
	}
	return nil
}

// Clamp forces the coordinate into the valid range.
func (c Coordinate) Clamp() Coordinate {
	return Coordinate{Lat: clamp(c.Lat, -90, 90), Lon: clamp(c.Lon, -180, 180)}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// DistanceKm is the great-circle (haversine) distance between a and b.
func DistanceKm(a, b Coordinate) float64 {
	a, b = a.Clamp(), b.Clamp()
	if a == b {
		return 0
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// float error can push h a hair past 1 for antipodal points
	h = math.Min(h, 1)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// KmToMiles converts and rounds to one decimal place.
func KmToMiles(km float64) float64 {
	return round1(km / kmPerMile)
}

// MilesToKm converts and rounds to one decimal place.
func MilesToKm(mi float64) float64 {
	return round1(mi * kmPerMile)
}

// EstimatedMinutes is round(distanceKm / avgSpeedKmh * 60). A non-positive
// speed falls back to DefaultAvgSpeedKmh.
func EstimatedMinutes(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAvgSpeedKmh
	}
	if distanceKm <= 0 || math.IsNaN(distanceKm) {
		return 0
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
