// Package geo validates and converts marker pixel coordinates.
//
// Map positions are plain image-pixel pairs on a fixed 2000x2000 grid, not
// geographic coordinates; there is no CRS and no projection. simplefeatures
// geometry types are used so positions interoperate with point-geometry
// tooling, but X/Y are pixels.
package geo

import (
	"errors"
	"fmt"

	"github.com/titanmap/tracker/pkg/core"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrInvalidCoordinates is returned when a coordinate pair is malformed or
// out of the map bounds.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PixelXY validates a GeoJSON-style coordinate array and returns it as a
// geom.XY. Exactly-two-element finite pairs within [0, core.CoordMax] are
// accepted; extra elements (e.g. an elevation) are rejected because the feed
// contract is strictly 2D.
func PixelXY(coords []float64) (geom.XY, error) {
	if len(coords) != 2 {
		return geom.XY{}, ErrInvalidCoordinates
	}
	xy := geom.XY{X: coords[0], Y: coords[1]}
	if !inBounds(xy.X) || !inBounds(xy.Y) {
		return geom.XY{}, ErrInvalidCoordinates
	}
	return xy, nil
}

// Point converts a validated pixel pair into a simplefeatures Point.
func Point(xy geom.XY) (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{XY: xy, Type: geom.DimXY})
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return pt, nil
}

func inBounds(v float64) bool {
	// NaN fails both comparisons, so non-finite values are rejected here too.
	return v >= 0 && v <= core.CoordMax
}
