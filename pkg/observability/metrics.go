package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteFunc names the route of a request for metric labels. Raw paths carry ids
// and would explode label cardinality.
type RouteFunc func(r *http.Request) string

// Metrics holds all Prometheus metrics. Record methods are safe on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Identity metrics
	AuthEventsTotal     *prometheus.CounterVec
	TokenRotationsTotal *prometheus.CounterVec
	SessionsTotal       *prometheus.CounterVec
	TokensPurgedTotal   prometheus.Counter

	// Collaborators
	MailDeliveriesTotal      *prometheus.CounterVec
	RateLimitRejectionsTotal *prometheus.CounterVec
	CacheHitsTotal           *prometheus.CounterVec
	CacheMissesTotal         *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Redis metrics
	RedisConnectionsTotal prometheus.Gauge
	RedisConnectionsIdle  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskboard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskboard_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskboard_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_auth_events_total",
				Help: "Account lifecycle events by outcome",
			},
			[]string{"event", "outcome"},
		),
		TokenRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_token_rotations_total",
				Help: "Refresh token rotations by outcome",
			},
			[]string{"trigger", "outcome"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_sessions_total",
				Help: "Session middleware results by final state",
			},
			[]string{"state"},
		),
		TokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskboard_temporary_tokens_purged_total",
				Help: "Expired verification and reset tokens cleared by the janitor",
			},
		),

		MailDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_mail_deliveries_total",
				Help: "Mail delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_rate_limit_rejections_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
		RedisConnectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_redis_connections_total",
			Help: "Number of connections in the Redis pool",
		}),
		RedisConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskboard_redis_connections_idle",
			Help: "Number of idle connections in the Redis pool",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.AuthEventsTotal,
		m.TokenRotationsTotal,
		m.SessionsTotal,
		m.TokensPurgedTotal,
		m.MailDeliveriesTotal,
		m.RateLimitRejectionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.RedisConnectionsTotal,
		m.RedisConnectionsIdle,
	)

	return m
}

// RecordAuthEvent counts an account lifecycle event such as "login" / "success"
func (m *Metrics) RecordAuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordTokenRotation counts a refresh rotation; trigger is "explicit" or "silent"
func (m *Metrics) RecordTokenRotation(trigger, outcome string) {
	if m == nil {
		return
	}
	m.TokenRotationsTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordSession counts the final state of the session middleware
func (m *Metrics) RecordSession(state string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordTokensPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensPurgedTotal.Add(float64(n))
}

// RecordMailDelivery counts one delivery attempt by outcome
func (m *Metrics) RecordMailDelivery(outcome string) {
	if m == nil {
		return
	}
	m.MailDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRateLimitRejection(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(limiter).Inc()
}

func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// DBStats is the subset of sql.DBStats exported as gauges
type DBStats struct {
	Open, InUse, Idle int
	WaitCount         int64
}

func (m *Metrics) UpdateDBStats(s DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(s.Open))
	m.DBConnectionsInUse.Set(float64(s.InUse))
	m.DBConnectionsIdle.Set(float64(s.Idle))
	m.DBConnectionsWaitCount.Set(float64(s.WaitCount))
}

func (m *Metrics) UpdateRedisPool(total, idle uint32) {
	if m == nil {
		return
	}
	m.RedisConnectionsTotal.Set(float64(total))
	m.RedisConnectionsIdle.Set(float64(idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests. route labels the request;
// nil falls back to the raw path. A nil metrics passes requests through untouched.
func HTTPMetricsMiddleware(metrics *Metrics, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			label := r.URL.Path
			if route != nil {
				label = route(r)
			}
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, label).Observe(float64(r.ContentLength))
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, label).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
