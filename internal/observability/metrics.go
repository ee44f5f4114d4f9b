package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// aggregation job.
type Metrics struct {
	JobRunning      prometheus.Gauge
	TablesExported  prometheus.Counter
	TargetFailures  prometheus.Counter
	RowsPublished   prometheus.Counter
	RetrievalErrors prometheus.Counter

	// Per-boundary aggregation outcomes.
	BoundariesAggregated *prometheus.CounterVec // labels: outcome={mean,fallback,missing}

	FetchDuration     *prometheus.HistogramVec // labels: stage={boundaries,field}
	AggregateDuration prometheus.Histogram
}

// NewMetrics creates and registers all job metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		JobRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_etl",
			Name:      "job_running",
			Help:      "1 while the aggregation job is active, 0 when finished.",
		}),
		TablesExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "tables_exported_total",
			Help:      "Total tables written to the output directory.",
		}),
		TargetFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "target_failures_total",
			Help:      "Total boundary/variable combinations that failed to produce a table.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "rows_published_total",
			Help:      "Total boundary rows published to the optional Kafka sink.",
		}),
		RetrievalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "retrieval_errors_total",
			Help:      "Total failed data-store retrievals.",
		}),
		BoundariesAggregated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_etl",
			Name:      "boundaries_aggregated_total",
			Help:      "Aggregated boundaries by outcome: spatial mean, nearest-cell fallback, or all missing.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of source data fetches by stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		AggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_etl",
			Name:      "aggregate_duration_seconds",
			Help:      "Duration of one table aggregation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}

	prometheus.MustRegister(
		m.JobRunning,
		m.TablesExported,
		m.TargetFailures,
		m.RowsPublished,
		m.RetrievalErrors,
		m.BoundariesAggregated,
		m.FetchDuration,
		m.AggregateDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		JobRunning:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_etl", Name: "job_running"}),
		TablesExported:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "tables_exported_total"}),
		TargetFailures:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "target_failures_total"}),
		RowsPublished:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "rows_published_total"}),
		RetrievalErrors:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_etl", Name: "retrieval_errors_total"}),
		BoundariesAggregated: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_etl", Name: "boundaries_aggregated_total"}, []string{"outcome"}),
		FetchDuration:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "climate_etl", Name: "fetch_duration_seconds"}, []string{"stage"}),
		AggregateDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "climate_etl", Name: "aggregate_duration_seconds"}),
	}
}
