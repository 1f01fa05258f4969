package seatguard

import "math"

const earthRadiusKM = 6371.0

// HaversineDistanceKm calculates the great-circle distance in kilometers
// between two geographic coordinates using the Haversine formula.
//
// Inputs are not validated: a NaN coordinate yields NaN, and callers
// comparing the result against a threshold get false.
func HaversineDistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	// Rounding can push a just past 1 for antipodal points.
	a = math.Min(a, 1)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// formatLocation renders a "City, Country" label, or whichever part is known.
func formatLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

// roundTo2Decimals keeps evidence payloads readable.
func roundTo2Decimals(v float64) float64 {
	return math.Round(v*100) / 100
}
