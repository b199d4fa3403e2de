package geofence

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusKM = 6371.0

// haversineKM returns the great-circle distance in kilometers between two
// (lng, lat) coordinates.
func haversineKM(a, b geom.Coord) float64 {
	lat1 := a[1] * math.Pi / 180
	lat2 := b[1] * math.Pi / 180
	dLat := (b[1] - a[1]) * math.Pi / 180
	dLng := (b[0] - a[0]) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
