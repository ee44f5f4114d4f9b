package domain

import (
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geomPoint(x, y float64) geom.Point { return geom.Point{X: x, Y: y} }

func square(minX, minY, maxX, maxY float64) geom.Polygon {
	return geom.Polygon{{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	}}
}

func TestNormalizeLon360(t *testing.T) {
	tests := []struct {
		name     string
		lon      float64
		expected float64
	}{
		{"already in range", 45, 45},
		{"zero", 0, 0},
		{"negative western hemisphere", -98.44, 261.56},
		{"negative near antimeridian", -179.5, 180.5},
		{"exactly -180", -180, 180},
		{"360 wraps to zero", 360, 0},
		{"greater than 360", 725, 5},
		{"less than -360", -370, 350},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, NormalizeLon360(tt.lon), 1e-9)
		})
	}
}

func TestRepresentativePoint(t *testing.T) {
	t.Run("centroid of eastern polygon unchanged", func(t *testing.T) {
		p, err := RepresentativePoint(square(10, 40, 20, 50))
		require.NoError(t, err)
		assert.InDelta(t, 15, p.X, 1e-9)
		assert.InDelta(t, 45, p.Y, 1e-9)
	})

	t.Run("negative centroid longitude remapped", func(t *testing.T) {
		// Texas-ish polygon: centroid lon is negative and must shift by +360.
		p, err := RepresentativePoint(square(-100, 30, -96, 34))
		require.NoError(t, err)
		assert.InDelta(t, 262, p.X, 1e-9)
		assert.InDelta(t, 32, p.Y, 1e-9)
	})

	t.Run("nil geometry", func(t *testing.T) {
		_, err := RepresentativePoint(nil)
		assert.ErrorIs(t, err, ErrEmptyGeometry)
	})

	t.Run("zero-area geometry", func(t *testing.T) {
		degenerate := geom.Polygon{{
			{X: 5, Y: 5},
			{X: 5, Y: 5},
			{X: 5, Y: 5},
		}}
		_, err := RepresentativePoint(degenerate)
		assert.ErrorIs(t, err, ErrEmptyGeometry)
	})
}
