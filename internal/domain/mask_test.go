package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMask(t *testing.T) {
	lats := []float64{0, 10, 20}
	lons := []float64{0, 10, 20}

	t.Run("single polygon labels contained cells", func(t *testing.T) {
		b := []Boundary{{ID: 0, Name: "A", Geom: square(-5, -5, 15, 15)}}
		m := BuildMask(lats, lons, b)

		assert.Equal(t, 0, m.Labels[0][0])
		assert.Equal(t, 0, m.Labels[1][1])
		assert.Equal(t, Unassigned, m.Labels[2][2])
		assert.Equal(t, Unassigned, m.Labels[0][2])
		assert.Len(t, m.Cells(0), 4)
	})

	t.Run("overlap resolved to lowest boundary ID", func(t *testing.T) {
		b := []Boundary{
			{ID: 0, Name: "first", Geom: square(-5, -5, 15, 15)},
			{ID: 1, Name: "second", Geom: square(-5, -5, 25, 25)},
		}
		m := BuildMask(lats, lons, b)

		// (10, 10) is inside both; the source ordering wins.
		assert.Equal(t, 0, m.Labels[1][1])
		// (20, 20) is only inside the second.
		assert.Equal(t, 1, m.Labels[2][2])
	})

	t.Run("wrap-aware across the antimeridian", func(t *testing.T) {
		// Polygon in shapefile convention straddling -175; grid longitude 185
		// corresponds to -175 and must be labeled.
		wlats := []float64{0}
		wlons := []float64{185}
		b := []Boundary{{ID: 0, Name: "fiji-ish", Geom: square(-178, -5, -172, 5)}}
		m := BuildMask(wlats, wlons, b)

		require.Equal(t, 0, m.Labels[0][0])
	})

	t.Run("nil geometry labels nothing", func(t *testing.T) {
		b := []Boundary{{ID: 0, Name: "ghost"}}
		m := BuildMask(lats, lons, b)

		for _, row := range m.Labels {
			for _, label := range row {
				assert.Equal(t, Unassigned, label)
			}
		}
		assert.Empty(t, m.Cells(0))
	})
}
