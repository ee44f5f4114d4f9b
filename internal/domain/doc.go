// Package domain models gridded reanalysis climate data and its aggregation
// onto political-boundary polygons.
//
// # Data Source
//
// Gridded fields come from the Copernicus Climate Data Store (CDS) ERA5
// reanalysis, retrieved as NetCDF by the cds adapter. A field is a
// (time, latitude, longitude) array of a single physical quantity:
// 2m temperature in Kelvin or total precipitation in meters.
//
// # Longitude Convention
//
// The reanalysis grid uses longitudes on [0, 360). Boundary polygons come
// from Natural Earth shapefiles, which use [-180, 180]. The grid is never
// renormalized; instead every boundary's representative point is remapped
// into [0, 360) with [NormalizeLon360], and containment tests against
// polygons are wrap-aware. Dropping this remap silently produces
// nearest-neighbor lookups on the wrong side of the globe, so it lives in
// one tested function rather than inline arithmetic.
//
// # Aggregation
//
// [BuildMask] labels each grid cell with the ID of the boundary whose
// polygon contains the cell center, or [Unassigned]. [Aggregate] then
// produces one time series per boundary: the spatial mean over the
// boundary's labeled cells, or, for boundaries smaller than the grid
// resolution, the nearest grid value at the representative point within a
// snapping tolerance. Boundaries whose geometry is empty or invalid yield
// all-missing rows; a single bad polygon never aborts the batch.
//
// # Unit Conversion
//
// Temperature variables are converted from Kelvin to Celsius by subtracting
// 273.15. The conversion is keyed by variable name (see kelvinVariables),
// not configurable per call.
package domain
