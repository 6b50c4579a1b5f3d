package geo

import "math"

// EarthRadiusMiles is Earth's radius in miles for Haversine calculation.
const EarthRadiusMiles = 3958.7613

// HaversineMiles calculates the great-circle distance between two points
// on Earth in miles using the Haversine formula. Used to rank captains by
// proximity to an order's pickup point.
func HaversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}
