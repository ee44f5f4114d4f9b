// Package pipeline orchestrates one batch run: load boundary polygons,
// retrieve gridded fields, aggregate onto boundaries, and export tables.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

// BoundaryLoader fetches one boundary dataset.
type BoundaryLoader interface {
	Load(ctx context.Context, resolution, category, name string, attrNames []string) (*domain.BoundarySet, error)
}

// FieldRetriever produces the gridded field for one variable.
type FieldRetriever interface {
	RetrieveField(ctx context.Context, variable string) (*domain.Field, error)
}

// TableExporter writes an aggregated table and returns its location.
type TableExporter interface {
	Export(ctx context.Context, table *domain.Table) (string, error)
}

// SeriesPublisher pushes aggregated rows to a downstream sink.
type SeriesPublisher interface {
	PublishTable(ctx context.Context, table *domain.Table) error
}

// Job runs the full aggregation batch. One table is produced per
// (boundary target, variable) pair; a failing pair is logged and skipped so
// the remaining pairs still export.
type Job struct {
	loader    BoundaryLoader
	retriever FieldRetriever
	exporter  TableExporter
	publisher SeriesPublisher // nil when the sink is disabled
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Job with the given stages and observability. publisher may
// be nil.
func New(l BoundaryLoader, r FieldRetriever, e TableExporter, p SeriesPublisher,
	cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Job {
	return &Job{
		loader:    l,
		retriever: r,
		exporter:  e,
		publisher: p,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once the job has exported at least one table.
func (j *Job) CheckReadiness(_ context.Context) error {
	if !j.ready.Load() {
		return errors.New("no table exported yet")
	}
	return nil
}

// Run executes the batch. It returns an error only when nothing could be
// exported; partial failures are reported through logs and metrics.
func (j *Job) Run(ctx context.Context) error {
	j.logger.Info("job started",
		"dataset", j.cfg.Dataset, "variables", j.cfg.Variables, "resolution", j.cfg.NEResolution)
	j.metrics.JobRunning.Set(1)
	defer j.metrics.JobRunning.Set(0)

	opts := domain.AggregateOptions{
		SnapTolerance: j.cfg.SnapTolerance,
		Workers:       j.cfg.Workers,
	}
	if start, ok := j.cfg.StartTime(); ok {
		opts.StartTime = start
	}

	fields := j.retrieveFields(ctx)
	if len(fields) == 0 {
		return errors.New("no variable could be retrieved")
	}

	var exported int
	for _, target := range j.cfg.Targets() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		exported += j.runTarget(ctx, target, fields, opts)
	}

	j.logger.Info("job complete", "tables", exported)
	if exported == 0 {
		return errors.New("no table could be exported")
	}
	return nil
}

// retrieveFields fetches each configured variable once; fields are shared
// across boundary targets. A variable that cannot be retrieved is dropped
// from the run rather than aborting it.
func (j *Job) retrieveFields(ctx context.Context) map[string]*domain.Field {
	fields := make(map[string]*domain.Field, len(j.cfg.Variables))
	for _, variable := range j.cfg.Variables {
		if ctx.Err() != nil {
			return fields
		}
		start := time.Now()
		field, err := j.retriever.RetrieveField(ctx, variable)
		if err != nil {
			j.logger.Error("field retrieval failed", "variable", variable, "error", err)
			j.metrics.RetrievalErrors.Inc()
			continue
		}
		j.metrics.FetchDuration.WithLabelValues("field").Observe(time.Since(start).Seconds())
		j.logger.Info("field retrieved",
			"variable", variable, "times", len(field.Times), "grid", field.Data.Shape)
		fields[variable] = field
	}
	return fields
}

// runTarget aggregates every retrieved variable onto one boundary dataset
// and returns the number of tables exported.
func (j *Job) runTarget(ctx context.Context, target config.BoundaryTarget, fields map[string]*domain.Field, opts domain.AggregateOptions) int {
	start := time.Now()
	set, err := j.loader.Load(ctx, j.cfg.NEResolution, target.Category, target.Name, target.AttrNames)
	if err != nil {
		j.logger.Error("boundary load failed", "target", target.Name, "error", err)
		j.metrics.TargetFailures.Add(float64(len(fields)))
		return 0
	}
	j.metrics.FetchDuration.WithLabelValues("boundaries").Observe(time.Since(start).Seconds())

	var exported int
	for _, variable := range j.cfg.Variables {
		field, ok := fields[variable]
		if !ok {
			continue
		}
		if err := j.exportTable(ctx, field, set, opts); err != nil {
			j.logger.Error("table export failed",
				"target", target.Name, "variable", variable, "error", err)
			j.metrics.TargetFailures.Inc()
			continue
		}
		exported++
	}
	return exported
}

// exportTable aggregates one field onto one boundary set, writes the table,
// and publishes it to the optional sink.
func (j *Job) exportTable(ctx context.Context, field *domain.Field, set *domain.BoundarySet, opts domain.AggregateOptions) error {
	start := time.Now()
	table, err := domain.Aggregate(ctx, field, set, opts)
	if err != nil {
		return fmt.Errorf("aggregate %s onto %s: %w", field.Variable, set.Source, err)
	}
	j.metrics.AggregateDuration.Observe(time.Since(start).Seconds())
	j.observeOutcomes(table)

	path, err := j.exporter.Export(ctx, table)
	if err != nil {
		return fmt.Errorf("export %s/%s: %w", set.Source, field.Variable, err)
	}
	j.metrics.TablesExported.Inc()
	j.ready.Store(true)
	j.logger.Info("table ready",
		"path", path, "source", set.Source, "variable", table.Variable,
		"rows", len(table.Rows), "periods", len(table.Periods))

	// The sink is best effort: the CSV on disk is the deliverable, so a
	// publish failure does not fail the table.
	if j.publisher != nil {
		if err := j.publisher.PublishTable(ctx, table); err != nil {
			j.logger.Warn("series publish failed",
				"source", set.Source, "variable", table.Variable, "error", err)
		} else {
			j.metrics.RowsPublished.Add(float64(len(table.Rows)))
		}
	}
	return nil
}

// observeOutcomes counts each row as a spatial mean, a nearest-cell
// fallback, or all missing. A fallback row whose every lookup missed the
// snapping tolerance carries no data, so missing takes precedence.
func (j *Job) observeOutcomes(table *domain.Table) {
	for _, row := range table.Rows {
		switch {
		case allMissing(row.Values):
			j.metrics.BoundariesAggregated.WithLabelValues("missing").Inc()
		case row.Fallback:
			j.metrics.BoundariesAggregated.WithLabelValues("fallback").Inc()
		default:
			j.metrics.BoundariesAggregated.WithLabelValues("mean").Inc()
		}
	}
}

func allMissing(values []float64) bool {
	for _, v := range values {
		if !math.IsNaN(v) {
			return false
		}
	}
	return len(values) > 0
}
