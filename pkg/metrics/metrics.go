package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redirect outcomes by gate state: open, locked, expired, disabled, not_found.
	RedirectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_redirects_total",
			Help: "Redirect requests by gate outcome",
		},
		[]string{"outcome"},
	)

	LinksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_links_created_total",
			Help: "Links created, by code source (generated or custom)",
		},
		[]string{"source"},
	)

	ClicksRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_clicks_recorded_total",
			Help: "Click events persisted",
		},
	)

	ClickRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_click_record_failures_total",
			Help: "Click events dropped because the write failed",
		},
	)

	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_code_collisions_total",
			Help: "Generated short codes that were already taken",
		},
	)

	PasswordChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_password_checks_total",
			Help: "Password verifications by result",
		},
		[]string{"result"},
	)

	PoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shortlink_db_pool_idle",
			Help: "Idle connections held by the pool",
		},
	)

	PoolOverflow = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_db_pool_overflow_total",
			Help: "Connections opened beyond the idle capacity",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortlink_db_query_duration_seconds",
			Help:    "Duration of datastore operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_db_query_errors_total",
			Help: "Datastore operation failures",
		},
		[]string{"operation"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_cache_hits_total",
			Help: "Link cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_cache_misses_total",
			Help: "Link cache misses",
		},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortlink_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordRedirect(outcome string) {
	RedirectsTotal.WithLabelValues(outcome).Inc()
}

func RecordPasswordCheck(ok bool) {
	if ok {
		PasswordChecks.WithLabelValues("success").Inc()
		return
	}
	PasswordChecks.WithLabelValues("failure").Inc()
}
