package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Archive transport metrics
	ArchiveRequestsTotal    *prometheus.CounterVec
	ArchiveRequestDuration  *prometheus.HistogramVec
	ArchiveRetriesTotal     prometheus.Counter
	AuthExchangesTotal      *prometheus.CounterVec
	DialectRowsSkippedTotal prometheus.Counter

	// Metadata cache metrics
	MetadataCacheLookups *prometheus.CounterVec

	// Matcher metrics
	MatcherIndexBuilds    *prometheus.CounterVec
	MatcherActiveStations *prometheus.GaugeVec

	// Orchestrator metrics
	StationYearFetches *prometheus.CounterVec
	ResolveDuration    prometheus.Histogram

	// Database Metrics
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec
	DBConnections   *prometheus.GaugeVec
}

// NewCollector creates a collector registered on the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorWith creates a collector registered on reg. Tests pass a fresh
// prometheus.NewRegistry() so that collectors never clash.
func NewCollectorWith(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
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
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
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

		ArchiveRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_requests_total",
				Help:      "Archive GET requests by outcome (ok, empty, error)",
			},
			[]string{"outcome"},
		),

		ArchiveRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_request_duration_seconds",
				Help:      "Archive request duration in seconds, including retries",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),

		ArchiveRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_retries_total",
				Help:      "Number of archive request retries after transport failures",
			},
		),

		AuthExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_exchanges_total",
				Help:      "Credential-for-token exchanges by outcome",
			},
			[]string{"outcome"},
		),

		DialectRowsSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialect_rows_skipped_total",
				Help:      "Malformed archive rows skipped while decoding",
			},
		),

		MetadataCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_cache_lookups_total",
				Help:      "Station metadata cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		MatcherIndexBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matcher_index_builds_total",
				Help:      "Year-filtered spatial index builds per table",
			},
			[]string{"table"},
		),

		MatcherActiveStations: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "matcher_active_stations",
				Help:      "Stations active in the most recently indexed year, per table",
			},
			[]string{"table"},
		),

		StationYearFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "station_year_fetches_total",
				Help:      "Station-year downloads by table and outcome (ok, empty)",
			},
			[]string{"table", "outcome"},
		),

		ResolveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Duration of a full resolve run in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool size by state",
			},
			[]string{"state"},
		),
	}
}

// Noop returns a collector bound to a private registry, for tests and tools
// that do not expose /metrics.
func Noop() *Collector {
	return NewCollectorWith("noop", prometheus.NewRegistry())
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

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordArchiveRequest counts one archive request and its total duration
func (c *Collector) RecordArchiveRequest(outcome string, d time.Duration) {
	c.ArchiveRequestsTotal.WithLabelValues(outcome).Inc()
	c.ArchiveRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordCacheLookup increments the metadata cache counter for hit or miss
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		c.MetadataCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.MetadataCacheLookups.WithLabelValues("miss").Inc()
}

// RecordIndexBuild notes a spatial index build over n active stations
func (c *Collector) RecordIndexBuild(table string, n int) {
	c.MatcherIndexBuilds.WithLabelValues(table).Inc()
	c.MatcherActiveStations.WithLabelValues(table).Set(float64(n))
}

// RecordStationYear increments the station-year fetch counter
func (c *Collector) RecordStationYear(table, outcome string) {
	c.StationYearFetches.WithLabelValues(table, outcome).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool records connection pool statistics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, open int) {
	c.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnections.WithLabelValues("idle").Set(float64(idle))
	c.DBConnections.WithLabelValues("open").Set(float64(open))
}
