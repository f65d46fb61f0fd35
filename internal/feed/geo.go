package feed

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the sphere radius used for distances, the same one the
// document store uses for spherical $geoNear queries.
const EarthRadiusMeters = 6378100.0

// boundsPaddingDegrees widens bounding boxes to absorb floating point error.
const boundsPaddingDegrees = 1e-9

// DistanceMeters returns the great-circle distance between two coordinates.
func DistanceMeters(from, to Coordinate) float64 {
	angle := latLng(from).Distance(latLng(to))
	return angle.Radians() * EarthRadiusMeters
}

// Bounds is a latitude/longitude rectangle enclosing a search radius.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
	// WrapsAntimeridian is set when the longitude range crosses ±180, in which
	// case matching longitudes satisfy lon >= MinLon OR lon <= MaxLon.
	WrapsAntimeridian bool
	// AllLongitudes is set when the cap covers a pole.
	AllLongitudes bool
}

// SearchBounds returns the rectangle enclosing every point within the plan radius.
func (p Plan) SearchBounds() Bounds {
	center := s2.PointFromLatLng(latLng(p.Origin))
	capAngle := s1.Angle(p.RadiusMeters / EarthRadiusMeters)
	if capAngle > math.Pi {
		capAngle = math.Pi
	}
	rect := s2.CapFromCenterAngle(center, capAngle).RectBound()

	bounds := Bounds{
		MinLat: s1.Angle(rect.Lat.Lo).Degrees() - boundsPaddingDegrees,
		MaxLat: s1.Angle(rect.Lat.Hi).Degrees() + boundsPaddingDegrees,
	}
	if rect.Lng.IsFull() {
		bounds.AllLongitudes = true
		bounds.MinLon = -180
		bounds.MaxLon = 180
		return bounds
	}
	bounds.MinLon = s1.Angle(rect.Lng.Lo).Degrees() - boundsPaddingDegrees
	bounds.MaxLon = s1.Angle(rect.Lng.Hi).Degrees() + boundsPaddingDegrees
	bounds.WrapsAntimeridian = rect.Lng.IsInverted()
	return bounds
}

// Contains reports whether the coordinate lies inside the rectangle.
func (b Bounds) Contains(point Coordinate) bool {
	if point.Lat < b.MinLat || point.Lat > b.MaxLat {
		return false
	}
	switch {
	case b.AllLongitudes:
		return true
	case b.WrapsAntimeridian:
		return point.Lon >= b.MinLon || point.Lon <= b.MaxLon
	default:
		return point.Lon >= b.MinLon && point.Lon <= b.MaxLon
	}
}

func latLng(point Coordinate) s2.LatLng {
	return s2.LatLngFromDegrees(point.Lat, point.Lon)
}
