package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("registers every collector", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordAuthEvent("login", "success")
		metrics.RecordTokenRotation("silent", "rotated")
		metrics.RecordSession("AUTHENTICATED")
		metrics.RecordTokensPurged(2)
		metrics.RecordMailDelivery("sent")
		metrics.RecordRateLimitRejection("auth")
		metrics.RecordCacheHit("membership")
		metrics.RecordCacheMiss("membership")
		metrics.UpdateDBStats(DBStats{Open: 3, InUse: 1, Idle: 2})
		metrics.UpdateRedisPool(4, 3)

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Gather failed: %v", err)
		}
		names := make(map[string]bool)
		for _, f := range families {
			names[f.GetName()] = true
		}
		for _, want := range []string{
			"taskboard_auth_events_total",
			"taskboard_token_rotations_total",
			"taskboard_sessions_total",
			"taskboard_temporary_tokens_purged_total",
			"taskboard_mail_deliveries_total",
			"taskboard_rate_limit_rejections_total",
			"taskboard_cache_hits_total",
			"taskboard_db_connections_open",
			"taskboard_redis_connections_idle",
		} {
			if !names[want] {
				t.Errorf("metric %s not gathered", want)
			}
		}
	})

	t.Run("panics on duplicate registration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic on duplicate registration")
			}
		}()
		NewMetrics(registry)
	})
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordAuthEvent("login", "success")
	m.RecordTokenRotation("explicit", "rotated")
	m.RecordSession("REJECTED")
	m.RecordTokensPurged(1)
	m.RecordMailDelivery("sent")
	m.RecordRateLimitRejection("api")
	m.RecordCacheHit("project")
	m.RecordCacheMiss("project")
	m.UpdateDBStats(DBStats{})
	m.UpdateRedisPool(0, 0)
}

func TestMetricsCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordTokenRotation("silent", "rotated")
	metrics.RecordTokenRotation("silent", "rotated")
	metrics.RecordTokenRotation("explicit", "mismatch")
	if got := testutil.ToFloat64(metrics.TokenRotationsTotal.WithLabelValues("silent", "rotated")); got != 2 {
		t.Errorf("silent rotations = %v, want 2", got)
	}

	metrics.RecordTokensPurged(0)
	metrics.RecordTokensPurged(5)
	if got := testutil.ToFloat64(metrics.TokensPurgedTotal); got != 5 {
		t.Errorf("purged = %v, want 5", got)
	}

	metrics.UpdateDBStats(DBStats{Open: 7, InUse: 2, Idle: 5, WaitCount: 1})
	if got := testutil.ToFloat64(metrics.DBConnectionsIdle); got != 5 {
		t.Errorf("idle = %v, want 5", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("labels by route", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		route := func(r *http.Request) string { return "/api/v1/tasks/{projectId}" }

		handler := HTTPMetricsMiddleware(metrics, route)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, "created")
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/123", strings.NewReader(`{"title":"x"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/tasks/{projectId}", "201"))
		if got != 1 {
			t.Errorf("request count = %v, want 1", got)
		}
		if n := testutil.CollectAndCount(metrics.HTTPRequestSize); n != 1 {
			t.Errorf("request size series = %d, want 1", n)
		}
	})

	t.Run("defaults to raw path and status 200", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		handler := HTTPMetricsMiddleware(metrics, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/healthcheck", nil))

		got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/healthcheck", "200"))
		if got != 1 {
			t.Errorf("request count = %v, want 1", got)
		}
	})

	t.Run("nil metrics passes through", func(t *testing.T) {
		handler := HTTPMetricsMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/healthcheck", nil))

		if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
			t.Errorf("got %d %q, want 200 \"ok\"", rec.Code, rec.Body.String())
		}
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordAuthEvent("register", "success")

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `taskboard_auth_events_total{event="register",outcome="success"} 1`) {
		t.Errorf("metrics output missing auth event:\n%s", rec.Body.String())
	}
}
