package domain

import (
	"errors"
	"math"

	"github.com/ctessum/geom"
)

// ErrEmptyGeometry marks a boundary whose polygon is missing or degenerate.
// Aggregation treats it as missing data, not as a batch failure.
var ErrEmptyGeometry = errors.New("empty or invalid boundary geometry")

// Boundary is a named political-region polygon. ID is the boundary's 0-based
// position in the source's native ordering and doubles as its mask label.
// Boundaries are immutable once loaded.
type Boundary struct {
	ID    int
	Name  string
	Attrs map[string]string

	// Geom is the polygon in the source's [-180, 180] longitude convention.
	// Nil when the source row carried no usable geometry.
	Geom geom.Polygonal

	// Rep is the polygon centroid with longitude remapped to [0, 360),
	// used for the nearest-neighbor fallback.
	Rep geom.Point
}

// BoundarySet is an ordered collection of boundaries from one source, plus
// the attribute column names shared by every row.
type BoundarySet struct {
	Source     string // e.g. "ne_110m_admin_0_countries"
	AttrNames  []string
	Boundaries []Boundary
}

// NormalizeLon360 maps arbitrary degree longitudes into the [0, 360) range.
//
// The reanalysis grid is defined on a 0-360 longitude axis, so boundary
// centroids computed in the conventional -180-180 representation must be
// wrapped before any nearest-neighbor lookup.
func NormalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}

// RepresentativePoint computes a polygon's centroid with longitude remapped
// into [0, 360). Returns ErrEmptyGeometry for nil or degenerate polygons.
func RepresentativePoint(g geom.Polygonal) (geom.Point, error) {
	if g == nil {
		return geom.Point{}, ErrEmptyGeometry
	}
	c := centroidOf(g)
	if math.IsNaN(c.X) || math.IsNaN(c.Y) {
		return geom.Point{}, ErrEmptyGeometry
	}
	return geom.Point{X: NormalizeLon360(c.X), Y: c.Y}, nil
}

// centroidOf wraps Centroid, converting panics on degenerate geometry
// (zero-area rings, empty multi-polygons) into a NaN point.
func centroidOf(g geom.Polygonal) (c geom.Point) {
	defer func() {
		if recover() != nil {
			c = geom.Point{X: math.NaN(), Y: math.NaN()}
		}
	}()
	c = g.Centroid()
	if g.Area() == 0 {
		return geom.Point{X: math.NaN(), Y: math.NaN()}
	}
	return c
}
