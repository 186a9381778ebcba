package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/OCAP2/mapmarkers/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Marker positions are kept as plain WGS84 (EPSG:4326) lon/lat pairs in memory and in exports.
// The SQL sinks additionally store a 3857 point in WKB so the rows can be used by spatial tooling.

// ErrInvalidPosition is returned when a coordinate is non-finite or out of geographic range
var ErrInvalidPosition = errors.New("invalid position")

// ErrInvalidCoordinates is returned when a coordinate string cannot be parsed
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Validate checks that both components are finite and inside [-180,180] x [-90,90].
func Validate(p core.Position) error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrInvalidPosition, p.Lon, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPosition, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPosition, p.Lat)
	}
	return nil
}

// PositionFromString parses a "long,lat" string into a core.Position.
// Parsing does not range-check; callers pass the result through Validate.
func PositionFromString(coords string) (core.Position, error) {
	coordsSplit := strings.Split(strings.TrimSpace(coords), ",")
	if len(coordsSplit) != 2 {
		return core.Position{}, ErrInvalidCoordinates
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	return core.Position{Lon: long, Lat: lat}, nil
}

// XY returns the planar coordinates of p as stored (x = longitude, y = latitude).
func XY(p core.Position) geom.XY {
	return geom.XY{X: p.Lon, Y: p.Lat}
}

// DistanceSquared is the planar squared Euclidean distance between a and b in degrees.
// No projection correction is applied.
func DistanceSquared(a, b core.Position) float64 {
	d := XY(a).Sub(XY(b))
	return d.Dot(d)
}

// ToWebMercator projects p from EPSG:4326 to EPSG:3857
func ToWebMercator(p core.Position) (geom.Point, error) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.Lon, p.Lat, 0)
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: projecting %v: %w", ErrInvalidCoordinates, p, err)
	}
	return pt, nil
}
