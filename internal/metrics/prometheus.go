package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the prediction service

var (
	// Feed API metrics
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_feed_api_calls_total",
			Help: "Total number of football data feed API calls",
		},
		[]string{"endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "footy_feed_api_call_duration_seconds",
			Help:    "Duration of feed API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Database metrics
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "table", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "footy_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "footy_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "footy_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "footy_cache_hits_total",
			Help: "Total number of prediction cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "footy_cache_misses_total",
			Help: "Total number of prediction cache misses",
		},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "footy_cache_operation_duration_seconds",
			Help:    "Duration of cache operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Job metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_job_runs_total",
			Help: "Total number of batch job runs",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "footy_job_duration_seconds",
			Help:    "Duration of batch job runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 55, 120},
		},
		[]string{"job"},
	)

	JobRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_job_rows_total",
			Help: "Rows handled by batch jobs, by outcome",
		},
		[]string{"job", "outcome"},
	)

	LastSuccessfulJob = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "footy_last_successful_job_timestamp",
			Help: "Timestamp of the last successful run of each job",
		},
		[]string{"job"},
	)

	// Prediction metrics
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_predictions_total",
			Help: "Predictions produced, by status and grade",
		},
		[]string{"status", "grade"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_settlements_total",
			Help: "Predictions settled, by result",
		},
		[]string{"result"},
	)

	PatternWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "footy_pattern_watermark",
			Help: "Highest settlement sequence folded into each feature set",
		},
		[]string{"feature_set"},
	)

	// HTTP API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "footy_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"method", "route"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "footy_predictor_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "footy_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
	)
)

// RecordAPICall records a feed API call metric
func RecordAPICall(endpoint, status string, duration float64) {
	APICallsTotal.WithLabelValues(endpoint, status).Inc()
	APICallDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table, status string, duration float64) {
	DBQueriesTotal.WithLabelValues(operation, table, status).Inc()
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordCacheOperation records a cache operation duration
func RecordCacheOperation(operation string, duration float64) {
	CacheOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordJob records a batch job run
func RecordJob(job, status string, duration float64) {
	JobRunsTotal.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(duration)

	if status == "success" {
		LastSuccessfulJob.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordJobRows records per-row outcomes of a job run
func RecordJobRows(job string, succeeded, skipped, insufficient, failed int) {
	JobRowsTotal.WithLabelValues(job, "succeeded").Add(float64(succeeded))
	JobRowsTotal.WithLabelValues(job, "skipped").Add(float64(skipped))
	JobRowsTotal.WithLabelValues(job, "insufficient").Add(float64(insufficient))
	JobRowsTotal.WithLabelValues(job, "failed").Add(float64(failed))
}

// RecordPrediction records a produced prediction
func RecordPrediction(status, grade string) {
	PredictionsTotal.WithLabelValues(status, grade).Inc()
}

// RecordSettlement records a settled prediction
func RecordSettlement(result string) {
	SettlementsTotal.WithLabelValues(result).Inc()
}

// UpdatePatternWatermark publishes the watermark of a feature set
func UpdatePatternWatermark(featureSet string, seq int64) {
	PatternWatermark.WithLabelValues(featureSet).Set(float64(seq))
}

// RecordHTTPRequest records a served API request
func RecordHTTPRequest(method, route string, code int, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(active, idle int32) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
