package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/ctessum/sparse"
)

// kelvinToCelsiusOffset converts absolute temperature to degrees Celsius.
const kelvinToCelsiusOffset = 273.15

// kelvinVariables are the variable names whose values arrive in Kelvin.
// Both the CDS request name and the short name stored in ERA5 NetCDF files
// are listed so conversion works regardless of which one reaches Aggregate.
var kelvinVariables = map[string]bool{
	"t2m":            true,
	"2m_temperature": true,
	"temperature":    true,
}

// Field is a gridded time series of one physical quantity, indexed by
// (time, latitude, longitude). Longitudes use the [0, 360) convention of the
// reanalysis grid and are never renormalized.
type Field struct {
	Variable string
	Unit     string
	Times    []time.Time
	Lats     []float64
	Lons     []float64
	Data     *sparse.DenseArray // shape (len(Times), len(Lats), len(Lons))
}

// Validate checks that coordinate lengths match the data shape.
func (f *Field) Validate() error {
	if f.Data == nil {
		return fmt.Errorf("field %s: no data", f.Variable)
	}
	if len(f.Data.Shape) != 3 {
		return fmt.Errorf("field %s: expected 3 dimensions, got %d", f.Variable, len(f.Data.Shape))
	}
	if f.Data.Shape[0] != len(f.Times) || f.Data.Shape[1] != len(f.Lats) || f.Data.Shape[2] != len(f.Lons) {
		return fmt.Errorf("field %s: shape %v does not match coordinates (%d, %d, %d)",
			f.Variable, f.Data.Shape, len(f.Times), len(f.Lats), len(f.Lons))
	}
	return nil
}

// Value returns the field value at the given time, latitude, and longitude
// indices.
func (f *Field) Value(t, y, x int) float64 {
	return f.Data.Get(t, y, x)
}

// ConvertUnits applies the fixed variable-name-keyed unit transformation:
// Kelvin values of temperature variables become degrees Celsius. All other
// variables pass through unchanged. NaN is preserved.
func ConvertUnits(variable string, v float64) float64 {
	if !kelvinVariables[variable] {
		return v
	}
	if math.IsNaN(v) {
		return v
	}
	return v - kelvinToCelsiusOffset
}

// ConvertedUnit reports the output unit label for a variable after
// ConvertUnits has been applied to its values.
func ConvertedUnit(variable, unit string) string {
	if kelvinVariables[variable] {
		return "degC"
	}
	return unit
}

// nearestIndex returns the index of the coordinate closest to target, along
// with the absolute distance to it. When wrap is true, distances are
// computed on a 360-degree circle so a target near 359 can snap to a
// coordinate near 0.
func nearestIndex(coords []float64, target float64, wrap bool) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range coords {
		d := math.Abs(c - target)
		if wrap {
			if dw := 360 - d; dw < d {
				d = dw
			}
		}
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// NearestValue looks up the field at the grid point nearest to (lat, lon),
// snapping at most tolerance grid-coordinate units on each axis
// independently. Longitude distance is wrap-aware. The boolean result is
// false when no grid point lies within tolerance.
func (f *Field) NearestValue(t int, lat, lon, tolerance float64) (float64, bool) {
	y, dy := nearestIndex(f.Lats, lat, false)
	x, dx := nearestIndex(f.Lons, lon, true)
	if y < 0 || x < 0 || dy > tolerance || dx > tolerance {
		return math.NaN(), false
	}
	return f.Value(t, y, x), true
}
