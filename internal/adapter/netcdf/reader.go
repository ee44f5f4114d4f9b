// Package netcdf decodes CDS NetCDF products into gridded domain fields.
package netcdf

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Coordinate variable names seen across ERA5 product generations.
var (
	latNames  = []string{"latitude", "lat"}
	lonNames  = []string{"longitude", "lon"}
	timeNames = []string{"time", "valid_time"}
)

// ReadField loads one (time, latitude, longitude) variable from a NetCDF
// file. An empty variable name selects the file's single data variable,
// which is how downloaded products are read: the store names variables by
// their short codes (t2m, tp) rather than the request names. Packed
// variables (int16 with scale_factor/add_offset) are unpacked and fill
// values become NaN. Longitudes are returned exactly as stored:
// the reanalysis grid already uses [0, 360) and is never renormalized.
func ReadField(path, variable string) (*domain.Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cf, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("read netcdf %s: %w", path, err)
	}

	if variable == "" {
		variable, err = dataVariable(cf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	lats, _, err := readCoord(cf, latNames)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	lons, _, err := readCoord(cf, lonNames)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	times, err := readTimes(cf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dims := cf.Header.Lengths(variable)
	if len(dims) == 0 {
		return nil, fmt.Errorf("%s: missing variable %q", path, variable)
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("%s: variable %q has %d dimensions, want (time, latitude, longitude)",
			path, variable, len(dims))
	}

	raw, err := readAll(cf, variable)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	unpackInPlace(cf, variable, raw)

	data := sparse.ZerosDense(dims...)
	copy(data.Elements, raw)

	field := &domain.Field{
		Variable: variable,
		Unit:     attrString(cf, variable, "units"),
		Times:    times,
		Lats:     lats,
		Lons:     lons,
		Data:     data,
	}
	if err := field.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return field, nil
}

// dataVariable finds the single gridded variable in the file: the one that
// spans three dimensions and is not a coordinate.
func dataVariable(cf *cdf.File) (string, error) {
	coords := map[string]bool{}
	for _, names := range [][]string{latNames, lonNames, timeNames} {
		for _, n := range names {
			coords[n] = true
		}
	}

	var found []string
	for _, name := range cf.Header.Variables() {
		if coords[name] || len(cf.Header.Lengths(name)) != 3 {
			continue
		}
		found = append(found, name)
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", errors.New("no gridded data variable found")
	default:
		return "", fmt.Errorf("ambiguous data variables: %s", strings.Join(found, ", "))
	}
}

// readCoord reads the first present coordinate variable from candidates.
func readCoord(cf *cdf.File, candidates []string) ([]float64, string, error) {
	for _, name := range candidates {
		if len(cf.Header.Lengths(name)) == 0 {
			continue
		}
		vals, err := readAll(cf, name)
		if err != nil {
			return nil, name, err
		}
		return vals, name, nil
	}
	return nil, "", fmt.Errorf("missing coordinate variable (tried %s)", strings.Join(candidates, ", "))
}

// readTimes decodes the time coordinate using its CF units attribute,
// e.g. "hours since 1900-01-01 00:00:00.0" for classic ERA5 files or
// "seconds since 1970-01-01" for newer CDS products.
func readTimes(cf *cdf.File) ([]time.Time, error) {
	vals, name, err := readCoord(cf, timeNames)
	if err != nil {
		return nil, err
	}

	units := attrString(cf, name, "units")
	step, epoch, err := parseTimeUnits(units)
	if err != nil {
		return nil, fmt.Errorf("time variable %q: %w", name, err)
	}

	times := make([]time.Time, len(vals))
	for i, v := range vals {
		times[i] = epoch.Add(time.Duration(v * float64(step)))
	}
	return times, nil
}

// parseTimeUnits parses a CF "<unit> since <datetime>" declaration.
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	parts := strings.Fields(units)
	if len(parts) < 3 || parts[1] != "since" {
		return 0, time.Time{}, fmt.Errorf("unsupported units %q", units)
	}

	var step time.Duration
	switch strings.TrimSuffix(parts[0], "s") + "s" {
	case "seconds":
		step = time.Second
	case "minutes":
		step = time.Minute
	case "hours":
		step = time.Hour
	case "days":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported units %q", units)
	}

	stamp := strings.Join(parts[2:], " ")
	for _, layout := range []string{
		"2006-01-02 15:04:05.0",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if epoch, err := time.Parse(layout, stamp); err == nil {
			return step, epoch.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported epoch in units %q", units)
}

// readAll reads a whole variable into float64s regardless of stored type.
func readAll(cf *cdf.File, variable string) ([]float64, error) {
	r := cf.Reader(variable, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("read variable %q: %w", variable, err)
	}

	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("variable %q has unsupported type %T", variable, buf)
	}
}

// unpackInPlace applies CF packing attributes: values equal to _FillValue or
// missing_value become NaN, then scale_factor and add_offset are applied.
func unpackInPlace(cf *cdf.File, variable string, vals []float64) {
	scale, hasScale := attrFloat(cf, variable, "scale_factor")
	offset, hasOffset := attrFloat(cf, variable, "add_offset")
	fill, hasFill := attrFloat(cf, variable, "_FillValue")
	missing, hasMissing := attrFloat(cf, variable, "missing_value")

	for i, v := range vals {
		if (hasFill && v == fill) || (hasMissing && v == missing) {
			vals[i] = math.NaN()
			continue
		}
		if hasScale {
			v *= scale
		}
		if hasOffset {
			v += offset
		}
		vals[i] = v
	}
}

func attrString(cf *cdf.File, variable, name string) string {
	if s, ok := cf.Header.GetAttribute(variable, name).(string); ok {
		return s
	}
	return ""
}

func attrFloat(cf *cdf.File, variable, name string) (float64, bool) {
	switch v := cf.Header.GetAttribute(variable, name).(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}
