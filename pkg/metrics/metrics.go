package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides application metrics collection
type Collector struct {
	reg *prometheus.Registry

	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Dedup loader metrics
	LoadRecordsTotal *prometheus.CounterVec
	LoadRejectsTotal *prometheus.CounterVec
	LoadDuration     prometheus.Histogram
	LoadBatchSize    prometheus.Histogram

	// Refresh metrics
	RefreshTotal         *prometheus.CounterVec
	RefreshDuration      prometheus.Histogram
	RefreshStageDuration *prometheus.HistogramVec
	RefreshLegsInWindow  prometheus.Gauge
	TableRowsWritten     *prometheus.GaugeVec
	LastRefreshTimestamp prometheus.Gauge

	// Notification metrics
	NotifyPublished prometheus.Counter
	NotifyErrors    prometheus.Counter

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry so several collectors can
// coexist in one process (tests, the offline checker).
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		reg: reg,

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		LoadRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_records_total",
				Help:      "Raw leg records seen by the dedup loader, by outcome (inserted, discarded, rejected)",
			},
			[]string{"outcome"},
		),

		LoadRejectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_rejects_total",
				Help:      "Malformed raw leg records by offending field",
			},
			[]string{"field"},
		),

		LoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_duration_seconds",
				Help:      "Duration of dedup load batches in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),

		LoadBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_batch_size",
				Help:      "Number of raw records per dedup batch",
				Buckets:   []float64{10, 100, 1000, 5000, 10000, 50000, 100000, 500000},
			},
		),

		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Refresh runs by status (success, failed, aborted, locked)",
			},
			[]string{"status"},
		),

		RefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "End-to-end refresh duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),

		RefreshStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_stage_duration_seconds",
				Help:      "Duration of each refresh stage in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 15),
			},
			[]string{"stage"},
		),

		RefreshLegsInWindow: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "refresh_legs_in_window",
				Help:      "Clean legs that qualified for the last refresh window",
			},
		),

		TableRowsWritten: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_rows_written",
				Help:      "Rows written to each rollup or snapshot table by the last refresh",
			},
			[]string{"table"},
		),

		LastRefreshTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_refresh_timestamp_seconds",
				Help:      "Unix time of the last successful refresh",
			},
		),

		NotifyPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_published_total",
				Help:      "Refresh notifications published",
			},
		),

		NotifyErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Refresh notifications that failed to publish",
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"},
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Handler exposes the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// StageTimer starts a timer for one refresh stage.
func (c *Collector) StageTimer(stage string) *Timer {
	return c.NewTimer(c.RefreshStageDuration.WithLabelValues(stage))
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordLoad adds the outcome counts of one dedup batch.
func (c *Collector) RecordLoad(inserted, discarded, rejected int) {
	c.LoadRecordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	c.LoadRecordsTotal.WithLabelValues("discarded").Add(float64(discarded))
	c.LoadRecordsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordReject counts one malformed record by the field that failed validation.
func (c *Collector) RecordReject(field string) {
	c.LoadRejectsTotal.WithLabelValues(field).Inc()
}

// RecordRefresh increments the refresh outcome counter
func (c *Collector) RecordRefresh(status string) {
	c.RefreshTotal.WithLabelValues(status).Inc()
}

// RecordTableRows sets the row count written to a table
func (c *Collector) RecordTableRows(table string, rows int) {
	c.TableRowsWritten.WithLabelValues(table).Set(float64(rows))
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
