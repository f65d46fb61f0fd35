// Package feed plans radius-bounded, ranked proximity queries over posts.
package feed

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/paging"
)

// ErrInvalidQuery reports a feed request that cannot be planned.
var ErrInvalidQuery = errors.New("feed: invalid query")

// Unit is a distance unit accepted for feed radii.
type Unit string

const (
	// UnitMiles measures radius and distance in statute miles.
	UnitMiles Unit = "mi"
	// UnitKilometers measures radius and distance in kilometers.
	UnitKilometers Unit = "km"
)

const (
	metersPerMile      = 1609.344
	metersPerKilometer = 1000
)

// ParseUnit normalizes a raw unit label.
func ParseUnit(raw string) (Unit, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(raw))) {
	case UnitMiles:
		return UnitMiles, nil
	case UnitKilometers:
		return UnitKilometers, nil
	default:
		return "", fmt.Errorf("%w: unit must be in Miles (mi) or Kilometers (km)", ErrInvalidQuery)
	}
}

// Meters returns how many meters make up one unit.
func (u Unit) Meters() float64 {
	if u == UnitKilometers {
		return metersPerKilometer
	}
	return metersPerMile
}

// String returns the unit label.
func (u Unit) String() string {
	return string(u)
}

// SortMode selects the ranking applied to feed results.
type SortMode string

const (
	// SortPopular ranks by score, newest first among equal scores.
	SortPopular SortMode = "popular"
	// SortProximity ranks by rounded distance, newest first among equal distances.
	SortProximity SortMode = "proximity"
	// SortDate ranks newest first.
	SortDate SortMode = "date"
)

// ParseSortMode maps a raw sort label to a mode. An empty label selects
// SortPopular and an unrecognized one selects SortDate.
func ParseSortMode(raw string) SortMode {
	switch SortMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortPopular:
		return SortPopular
	case SortProximity:
		return SortProximity
	default:
		return SortDate
	}
}

// Coordinate is a point on the earth in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Validate checks that the coordinate is finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidQuery)
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidQuery)
	}
	return nil
}

// Request carries the parsed inputs of a feed query.
type Request struct {
	Origin Coordinate
	Radius float64
	Unit   string
	SortBy string
	Window paging.Window
}

// Plan is a validated feed query ready for a store to execute.
type Plan struct {
	Origin       Coordinate
	RadiusMeters float64
	Unit         Unit
	Sort         SortMode
	Window       paging.Window
}

// NewPlan validates the request and converts the radius into meters.
func NewPlan(request Request) (Plan, error) {
	if err := request.Origin.Validate(); err != nil {
		return Plan{}, err
	}
	if math.IsNaN(request.Radius) || math.IsInf(request.Radius, 0) || request.Radius <= 0 {
		return Plan{}, fmt.Errorf("%w: radius must be a positive number", ErrInvalidQuery)
	}
	unit, err := ParseUnit(request.Unit)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Origin:       request.Origin,
		RadiusMeters: request.Radius * unit.Meters(),
		Unit:         unit,
		Sort:         ParseSortMode(request.SortBy),
		Window:       request.Window,
	}, nil
}

// DistanceMultiplier converts meters into the plan's unit.
func (p Plan) DistanceMultiplier() float64 {
	return 1 / p.Unit.Meters()
}

// ReportedDistance converts meters into the plan's unit rounded to one decimal place.
// Halves round to even, matching the rounding applied by the document store.
func (p Plan) ReportedDistance(meters float64) float64 {
	return math.RoundToEven(meters*p.DistanceMultiplier()*10) / 10
}
