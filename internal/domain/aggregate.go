package domain

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// DefaultSnapTolerance is the maximum distance, in grid-coordinate units per
// axis, that a representative point may be from the nearest grid point for
// the fallback lookup to produce a value.
const DefaultSnapTolerance = 1.0

// AggregateOptions control the grid-to-boundary aggregation.
type AggregateOptions struct {
	// StartTime drops all field time steps before it. Zero keeps everything.
	StartTime time.Time

	// SnapTolerance bounds the nearest-neighbor fallback. Zero means
	// DefaultSnapTolerance.
	SnapTolerance float64

	// Workers bounds the parallel per-boundary loop. Zero or one runs
	// sequentially. Output ordering is independent of this setting.
	Workers int
}

// Row is one boundary's aggregated time series together with the boundary's
// descriptive attributes. Values align with the parent table's Periods;
// missing data is NaN.
type Row struct {
	BoundaryID int
	Name       string
	Attrs      map[string]string
	Values     []float64

	// Fallback is true when the series came from the nearest-neighbor
	// lookup at the representative point instead of a cell mean.
	Fallback bool
}

// Table is the result of aggregating one field over one boundary set:
// exactly one row per boundary, in boundary-ID order, one value per retained
// time step. Never mutated after creation.
type Table struct {
	Variable    string
	Unit        string
	Source      string
	AttrNames   []string
	Periods     []string
	Times       []time.Time
	Rows        []Row
	GeneratedAt time.Time
}

// Aggregate produces one time series per boundary from a gridded field:
// the spatial mean over grid cells whose centers fall inside the boundary's
// polygon, or the nearest grid value at the representative point when no
// cell does. Rows come back in boundary-ID order regardless of how the
// per-boundary loop is scheduled. Per-boundary failures (empty geometry,
// out-of-tolerance representative point) yield all-NaN rows; only a
// cancelled context or a malformed field returns an error.
func Aggregate(ctx context.Context, field *Field, set *BoundarySet, opts AggregateOptions) (*Table, error) {
	if err := field.Validate(); err != nil {
		return nil, fmt.Errorf("aggregate %s over %s: %w", field.Variable, set.Source, err)
	}
	tolerance := opts.SnapTolerance
	if tolerance == 0 {
		tolerance = DefaultSnapTolerance
	}

	mask := BuildMask(field.Lats, field.Lons, set.Boundaries)
	keep := retainedTimeIndices(field.Times, opts.StartTime)

	times := make([]time.Time, len(keep))
	for i, t := range keep {
		times[i] = field.Times[t]
	}

	table := &Table{
		Variable:    field.Variable,
		Unit:        ConvertedUnit(field.Variable, field.Unit),
		Source:      set.Source,
		AttrNames:   set.AttrNames,
		Periods:     periodLabels(times),
		Times:       times,
		Rows:        make([]Row, len(set.Boundaries)),
		GeneratedAt: clock.Now().UTC(),
	}

	// Validate all IDs up front: once workers have started, returning early
	// would abandon goroutines still writing into table.Rows.
	for i := range set.Boundaries {
		if b := &set.Boundaries[i]; b.ID < 0 || b.ID >= len(set.Boundaries) {
			return nil, fmt.Errorf("aggregate %s over %s: boundary %q has non-positional ID %d",
				field.Variable, set.Source, b.Name, b.ID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 1 {
		g.SetLimit(opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for i := range set.Boundaries {
		b := &set.Boundaries[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Rows are indexed by boundary ID, so concurrent workers never
			// share an element and output order never depends on scheduling.
			table.Rows[b.ID] = aggregateBoundary(field, mask, b, keep, tolerance)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return table, nil
}

// aggregateBoundary computes one boundary's series. It never fails: any
// panic from degenerate geometry and any fallback miss produce NaN values.
func aggregateBoundary(field *Field, mask *Mask, b *Boundary, keep []int, tolerance float64) (row Row) {
	row = Row{
		BoundaryID: b.ID,
		Name:       b.Name,
		Attrs:      b.Attrs,
		Values:     allMissing(len(keep)),
	}
	defer func() {
		if recover() != nil {
			row.Values = allMissing(len(keep))
		}
	}()

	cells := mask.Cells(b.ID)
	if len(cells) == 0 {
		// Boundary smaller than the grid resolution (tiny islands):
		// nearest-neighbor at the representative point, bounded by the
		// snapping tolerance. A miss is missing data, not an error.
		if b.Geom == nil {
			return row
		}
		row.Fallback = true
		for i, t := range keep {
			if v, ok := field.NearestValue(t, b.Rep.Y, b.Rep.X, tolerance); ok {
				row.Values[i] = ConvertUnits(field.Variable, v)
			}
		}
		return row
	}

	vals := make([]float64, len(cells))
	for i, t := range keep {
		for k, c := range cells {
			vals[k] = field.Value(t, c[0], c[1])
		}
		row.Values[i] = ConvertUnits(field.Variable, floats.Sum(vals)/float64(len(vals)))
	}
	return row
}

// retainedTimeIndices returns the indices of time steps at or after start.
func retainedTimeIndices(times []time.Time, start time.Time) []int {
	keep := make([]int, 0, len(times))
	for i, t := range times {
		if !t.Before(start) {
			keep = append(keep, i)
		}
	}
	return keep
}

// periodLabels derives the column labels for the retained time steps:
// "2006-01" for monthly-mean series (every step at midnight on the first of
// a month), RFC 3339 otherwise.
func periodLabels(times []time.Time) []string {
	monthly := len(times) > 0
	for _, t := range times {
		u := t.UTC()
		if u.Day() != 1 || u.Hour() != 0 || u.Minute() != 0 {
			monthly = false
			break
		}
	}
	labels := make([]string, len(times))
	for i, t := range times {
		if monthly {
			labels[i] = t.UTC().Format("2006-01")
		} else {
			labels[i] = t.UTC().Format(time.RFC3339)
		}
	}
	return labels
}

func allMissing(n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return vals
}
