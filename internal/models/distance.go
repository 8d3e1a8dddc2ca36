package models

import (
	"github.com/golang/geo/s2"
)

const earthRadiusMiles = 3958.7613

// GreatCircleMiles is the spherical distance between two points.
func GreatCircleMiles(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusMiles
}

// ManhattanMiles walks the north-south leg along the start meridian, then the east-west leg
// along the end parallel.
func ManhattanMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return GreatCircleMiles(lat1, lon1, lat2, lon1) + GreatCircleMiles(lat2, lon1, lat2, lon2)
}
