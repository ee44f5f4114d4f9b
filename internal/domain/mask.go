package domain

import (
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// Unassigned labels grid cells whose center falls inside no boundary.
const Unassigned = -1

// Mask maps each grid cell to the ID of the boundary containing its center.
// Labels is indexed [lat][lon].
type Mask struct {
	Labels [][]int

	// cells caches the labeled cell indices per boundary ID.
	cells map[int][][2]int
}

// Cells returns the (lat, lon) index pairs of all cells labeled with id.
func (m *Mask) Cells(id int) [][2]int {
	return m.cells[id]
}

// boundaryShape makes a boundary insertable into an rtree by exposing its
// polygon bounds.
type boundaryShape struct {
	geom.Polygonal
	id int
}

// BuildMask labels every grid cell with the ID of the boundary whose polygon
// contains the cell center, or Unassigned. Grid longitudes use [0, 360) while
// polygons use [-180, 180], so cell centers east of 180 are additionally
// tested at lon-360. When multiple polygons contain a center, the lowest
// boundary ID wins, matching the source's native ordering.
func BuildMask(lats, lons []float64, boundaries []Boundary) *Mask {
	tree := rtree.NewTree(25, 50)
	for _, b := range boundaries {
		if b.Geom == nil {
			continue
		}
		tree.Insert(boundaryShape{Polygonal: b.Geom, id: b.ID})
	}

	m := &Mask{
		Labels: make([][]int, len(lats)),
		cells:  make(map[int][][2]int),
	}
	for j, lat := range lats {
		m.Labels[j] = make([]int, len(lons))
		for i, lon := range lons {
			label := containingBoundary(tree, lat, lon)
			m.Labels[j][i] = label
			if label != Unassigned {
				m.cells[label] = append(m.cells[label], [2]int{j, i})
			}
		}
	}
	return m
}

// containingBoundary finds the lowest-ID boundary containing the cell center
// at (lat, lon). lon is on [0, 360).
func containingBoundary(tree *rtree.Rtree, lat, lon float64) int {
	best := Unassigned
	consider := func(p geom.Point) {
		for _, s := range tree.SearchIntersect(p.Bounds()) {
			b := s.(boundaryShape)
			if best != Unassigned && b.id >= best {
				continue
			}
			if pointInPolygonal(p, b.Polygonal) {
				best = b.id
			}
		}
	}
	consider(geom.Point{X: lon, Y: lat})
	if lon >= 180 {
		consider(geom.Point{X: lon - 360, Y: lat})
	}
	return best
}

// pointInPolygonal reports containment, counting a point on the edge as
// inside. Panics from degenerate rings count as outside.
func pointInPolygonal(p geom.Point, poly geom.Polygonal) (in bool) {
	defer func() {
		if recover() != nil {
			in = false
		}
	}()
	return p.Within(poly) != geom.Outside
}
