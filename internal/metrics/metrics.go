// Package metrics exposes the pipeline's Prometheus instrumentation.
// Grounded on the teacher's internal/metrics/prometheus_exporter.go
// package-level promauto variable shape, repurposed here from cluster
// gauges (node count, spot savings) to pipeline counters and histograms:
// rows read, rows matched/attributed, reader retries, stage duration, and
// warehouse rows written (SPEC_FULL.md DOMAIN STACK).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "rows_read_total",
		Help:      "Total raw rows decoded from Parquet partitions",
	}, []string{"provider", "subtype"})

	RowsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "rows_matched_total",
		Help:      "Total AWS line items carried into attribution by the resource matcher",
	}, []string{"provider"})

	RowsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "rows_discarded_total",
		Help:      "Total AWS line items discarded by the resource matcher (no resource-id or tag match)",
	}, []string{"provider"})

	RowsAttributed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "rows_attributed_total",
		Help:      "Total attributed-cost rows produced by the cost attributor",
	}, []string{"provider", "data_source"})

	WarehouseRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "warehouse_rows_written_total",
		Help:      "Total rows bulk-loaded into a warehouse target table",
	}, []string{"provider", "table"})

	ReaderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "reader_retries_total",
		Help:      "Total object-store read retries after a transient failure",
	}, []string{"provider"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "costpipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of one pipeline stage for one provider",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "stage"})

	ProviderRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costpipeline",
		Name:      "provider_runs_total",
		Help:      "Total provider runs by terminal state",
	}, []string{"provider", "result"})
)
