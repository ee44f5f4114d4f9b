// Command inspect runs offline integrity checks against a downloaded
// reanalysis product and a boundary shapefile before a full aggregation run:
// grid regularity, time axis consistency, value plausibility, and boundary
// coverage of the grid.
//
// Usage:
//
//	go run ./cmd/inspect \
//	  -product out/downloads/2m_temperature.nc \
//	  -shapefile out/ne_110m_admin_0_countries.shp \
//	  -attrs NAME,ISO_A3
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/climate-region-etl/internal/adapter/naturalearth"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// phase tracks pass/fail for one inspection phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	product := flag.String("product", "", "path to a downloaded NetCDF product")
	shapefile := flag.String("shapefile", "", "path to a boundary shapefile (.shp)")
	attrs := flag.String("attrs", "NAME", "comma-separated attribute columns")
	flag.Parse()

	if *product == "" || *shapefile == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*product, *shapefile, strings.Split(*attrs, ",")); code != 0 {
		os.Exit(code)
	}
}

func run(productPath, shapefilePath string, attrNames []string) int {
	fmt.Println("=== Climate Region Aggregation Inspection ===")
	fmt.Println()

	field, err := netcdf.ReadField(productPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read product: %v\n", err)
		return 1
	}

	set, err := naturalearth.LoadShapefile(shapefilePath, attrNames)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read shapefile: %v\n", err)
		return 1
	}

	phases := []*phase{
		inspectGrid(field),
		inspectTimeAxis(field),
		inspectValues(field),
		inspectCoverage(field, set),
	}

	fmt.Printf("Product: variable=%s unit=%s grid=%dx%d times=%d\n",
		field.Variable, field.Unit, len(field.Lats), len(field.Lons), len(field.Times))
	fmt.Printf("Boundaries: %s (%d rows)\n", set.Source, len(set.Boundaries))
	fmt.Println()

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
		for _, n := range p.notes {
			fmt.Printf("      %s\n", n)
		}
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll inspections passed.")
		return 0
	}
	fmt.Println("\nInspection FAILED.")
	return 1
}

// ── Phase 1: Grid Regularity ──
// The grid must be rectilinear with uniform spacing per axis, since
// cell-center containment assumes evenly spaced coordinates.

func inspectGrid(field *domain.Field) *phase {
	p := &phase{name: "Phase 1: Grid Regularity"}

	checkUniformSpacing(p, "latitude", field.Lats)
	checkUniformSpacing(p, "longitude", field.Lons)

	for _, lon := range field.Lons {
		if lon < 0 || lon >= 360 {
			p.errorf("longitude %g outside [0, 360)", lon)
		}
	}
	for _, lat := range field.Lats {
		if lat < -90 || lat > 90 {
			p.errorf("latitude %g outside [-90, 90]", lat)
		}
	}

	if len(field.Lats) > 1 {
		p.notef("lat step %.4g, lon step %.4g",
			math.Abs(field.Lats[1]-field.Lats[0]), math.Abs(field.Lons[1]-field.Lons[0]))
	}
	return p
}

func checkUniformSpacing(p *phase, axis string, coords []float64) {
	if len(coords) < 2 {
		p.errorf("%s axis has %d points", axis, len(coords))
		return
	}
	step := coords[1] - coords[0]
	if step == 0 {
		p.errorf("%s axis has zero spacing", axis)
		return
	}
	for i := 2; i < len(coords); i++ {
		got := coords[i] - coords[i-1]
		if math.Abs(got-step) > 1e-6*math.Abs(step) {
			p.errorf("%s spacing changes at index %d: %g vs %g", axis, i, got, step)
		}
	}
}

// ── Phase 2: Time Axis ──

func inspectTimeAxis(field *domain.Field) *phase {
	p := &phase{name: "Phase 2: Time Axis"}

	if len(field.Times) == 0 {
		p.errorf("no time steps")
		return p
	}
	for i := 1; i < len(field.Times); i++ {
		if !field.Times[i].After(field.Times[i-1]) {
			p.errorf("time axis not strictly increasing at index %d: %s then %s",
				i, field.Times[i-1], field.Times[i])
		}
	}

	monthly := true
	for _, t := range field.Times {
		if t.Day() != 1 || t.Hour() != 0 {
			monthly = false
			break
		}
	}
	if monthly {
		p.notef("monthly cadence, %s to %s",
			field.Times[0].Format("2006-01"), field.Times[len(field.Times)-1].Format("2006-01"))
	} else {
		p.notef("sub-monthly cadence, %d steps", len(field.Times))
	}
	return p
}

// ── Phase 3: Value Plausibility ──

func inspectValues(field *domain.Field) *phase {
	p := &phase{name: "Phase 3: Value Plausibility"}

	var missing int
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range field.Data.Elements {
		if math.IsNaN(v) {
			missing++
			continue
		}
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}

	total := len(field.Data.Elements)
	if missing == total {
		p.errorf("every cell is missing")
		return p
	}
	if frac := float64(missing) / float64(total); frac > 0.5 {
		p.errorf("%.0f%% of cells are missing", frac*100)
	}
	p.notef("range [%.4g, %.4g], %d/%d cells missing", minV, maxV, missing, total)

	// Kelvin temperatures far outside Earth's observed extremes point at a
	// packing or unit problem rather than weather.
	if field.Unit == "K" && (minV < 150 || maxV > 350) {
		p.errorf("Kelvin values outside plausible range [150, 350]: [%.4g, %.4g]", minV, maxV)
	}
	return p
}

// ── Phase 4: Boundary Coverage ──
// Reports how the boundary set lands on the grid: boundaries covered by
// cells, boundaries that will rely on the nearest-cell fallback, and the
// one-row-per-boundary invariant of the aggregation itself.

func inspectCoverage(field *domain.Field, set *domain.BoundarySet) *phase {
	p := &phase{name: "Phase 4: Boundary Coverage"}

	mask := domain.BuildMask(field.Lats, field.Lons, set.Boundaries)
	var covered, uncovered, unusable int
	for _, b := range set.Boundaries {
		switch {
		case b.Geom == nil:
			unusable++
		case len(mask.Cells(b.ID)) > 0:
			covered++
		default:
			uncovered++
		}
	}
	p.notef("%d covered by cells, %d fallback candidates, %d without usable geometry",
		covered, uncovered, unusable)
	if covered == 0 {
		p.errorf("no boundary is covered by any grid cell")
	}

	table, err := domain.Aggregate(context.Background(), field, set, domain.AggregateOptions{
		SnapTolerance: domain.DefaultSnapTolerance,
	})
	if err != nil {
		p.errorf("aggregation failed: %v", err)
		return p
	}
	if len(table.Rows) != len(set.Boundaries) {
		p.errorf("aggregation produced %d rows for %d boundaries", len(table.Rows), len(set.Boundaries))
	}
	for i, row := range table.Rows {
		if row.BoundaryID != i {
			p.errorf("row %d carries boundary ID %d", i, row.BoundaryID)
			break
		}
	}
	return p
}
