package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/cinelock/seatlockd/internal/metrics"
)

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics("test", map[string]string{"version": "test"})
}

func TestMetrics(t *testing.T) {
	m := testMetrics()

	handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest("POST", "/v1/lock", strings.NewReader(`{"showtime_id":1}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/lock", "418"))
	if count != 1 {
		t.Errorf("http_requests_total = %v, want 1", count)
	}

	inFlight := testutil.ToFloat64(m.HTTPRequestsInFlight.WithLabelValues("POST", "/v1/lock"))
	if inFlight != 0 {
		t.Errorf("http_requests_in_flight = %v, want 0 after completion", inFlight)
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := testMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/v1/status?showtime_id=42", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/status", "200"))
	if count != 1 {
		t.Errorf("http_requests_total for route pattern = %v, want 1", count)
	}
}

func TestLogging(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	called := false
	handler := Logging(logger, "api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ping", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("next handler was not called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestProbeMetrics(t *testing.T) {
	m := testMetrics()

	ok := ProbeMetrics(m, "ready")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	failing := ProbeMetrics(m, "ready")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest("GET", "/healthz/ready", nil)

	ok.ServeHTTP(httptest.NewRecorder(), req)
	if v := testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("ready", "ok")); v != 1 {
		t.Errorf("health_check_status{ok} = %v, want 1", v)
	}

	failing.ServeHTTP(httptest.NewRecorder(), req)
	if v := testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("ready", "error")); v != 1 {
		t.Errorf("health_check_status{error} = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.HealthCheckFailuresTotal.WithLabelValues("ready")); v != 1 {
		t.Errorf("health_check_failures_total = %v, want 1", v)
	}
}

func TestRecoverer(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest("GET", "/v1/lock", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rr.Body.String(), "Internal Server Error") {
		t.Errorf("body = %q, want internal server error text", rr.Body.String())
	}
}

func TestRoutePatternFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/unrouted/path", nil)
	if got := routePattern(req); got != "/unrouted/path" {
		t.Errorf("routePattern = %q, want /unrouted/path", got)
	}
}
