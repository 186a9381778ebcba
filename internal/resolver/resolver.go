// Package resolver maps a pointer coordinate to the closest stored marker.
//
// Distance is planar Euclidean on the (longitude, latitude) pair as stored. No
// projection correction is applied, so east-west distances are overweighted away
// from the equator. Ties go to the marker with the lowest insertion index.
package resolver

import (
	"errors"
	"fmt"

	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/pkg/core"
)

// ErrNoMarker is returned when there is nothing to match against
var ErrNoMarker = errors.New("no marker found")

// Resolver finds the marker nearest to a query point.
// It returns the marker and its index in the snapshot.
type Resolver interface {
	Nearest(snapshot core.Snapshot, query core.Position) (core.Marker, int, error)
}

// Index names for configuration
const (
	IndexLinear = "linear"
	IndexRTree  = "rtree"
)

// New returns the resolver registered under name.
func New(name string) (Resolver, error) {
	switch name {
	case "", IndexLinear:
		return Linear{}, nil
	case IndexRTree:
		return NewIndexed(), nil
	default:
		return nil, fmt.Errorf("unknown resolver index: %s", name)
	}
}

// Linear scans every marker; O(n) per query.
type Linear struct{}

// Nearest implements Resolver.
func (Linear) Nearest(snapshot core.Snapshot, query core.Position) (core.Marker, int, error) {
	best := -1
	var bestD float64
	for i := range snapshot {
		d := geo.DistanceSquared(snapshot[i].Position, query)
		// strict less keeps the first of equidistant markers
		if best < 0 || d < bestD {
			best = i
			bestD = d
		}
	}
	if best < 0 {
		return core.Marker{}, -1, ErrNoMarker
	}
	return snapshot[best], best, nil
}
