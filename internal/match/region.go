package match

import (
	"math"

	"github.com/openlistings/alertd/internal/domain/search"
)

const earthRadiusKm = 6371.0

// RadiusChecker is the default RegionChecker: great-circle distance against
// the search's center and radius. Polygon membership plugs in by swapping
// the checker.
func RadiusChecker(lat, lon float64, s *search.SavedSearch) bool {
	if s.RadiusKm <= 0 {
		return false
	}
	return haversineKm(lat, lon, s.CenterLat, s.CenterLon) <= s.RadiusKm
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
