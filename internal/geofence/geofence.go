// Package geofence classifies coordinates against hazard zones and remembers
// the last classification per subject so alerts fire only on entry.
package geofence

import (
	"math"

	"github.com/safetyhub/internal/model"
)

const earthRadiusKm = 6371.0

// Match is the zone that decided a classification.
type Match struct {
	Zone  model.GeofenceZone
	Index int
}

// Evaluate returns the highest-severity zone containing c, or nil when c is nil
// or outside every zone. Ties go to the zone listed first.
func Evaluate(c *model.Coordinates, zones []model.GeofenceZone) *Match {
	if c == nil {
		return nil
	}
	var best *Match
	for i, z := range zones {
		if !Contains(z.Shape, *c) {
			continue
		}
		if best == nil || z.Severity.Rank() > best.Zone.Severity.Rank() {
			best = &Match{Zone: z, Index: i}
		}
	}
	return best
}

// Contains reports whether c lies inside shape. Circle boundaries are inclusive.
func Contains(shape model.Shape, c model.Coordinates) bool {
	switch shape.Kind {
	case model.ShapeCircle:
		return DistanceKm(shape.Center, c) <= shape.RadiusKm
	case model.ShapePolygon:
		return inPolygon(shape.Points, c)
	}
	return false
}

// DistanceKm is the haversine great-circle distance.
func DistanceKm(a, b model.Coordinates) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// inPolygon is even-odd ray casting on lon/lat treated as planar coordinates.
func inPolygon(pts []model.Coordinates, c model.Coordinates) bool {
	if len(pts) < 3 {
		return false
	}
	inside := false
	j := len(pts) - 1
	for i := range pts {
		pi, pj := pts[i], pts[j]
		if (pi.Lat > c.Lat) != (pj.Lat > c.Lat) &&
			c.Lon < (pj.Lon-pi.Lon)*(c.Lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lon {
			inside = !inside
		}
		j = i
	}
	return inside
}
