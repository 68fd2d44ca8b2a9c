package markers

import (
	"context"
	"math"
)

const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance between two WGS84
// points. Accurate to well under a meter at anti-spam scale.
func HaversineMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// nearestOwnMarker scans the actor's own markers and returns the smallest
// distance to p. The scan is O(n) in the actor's markers, which the daily
// cap keeps small.
func nearestOwnMarker(ctx context.Context, store Store, actorID string, p Point) (float64, bool, error) {
	own, err := store.ListMarkers(ctx, Filter{CreatedBy: actorID})
	if err != nil {
		return 0, false, err
	}
	found := false
	min := math.MaxFloat64
	for _, m := range own {
		d := HaversineMeters(p, Point{Lat: m.Latitude, Lon: m.Longitude})
		if d < min {
			min = d
			found = true
		}
	}
	return min, found, nil
}
