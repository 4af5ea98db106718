package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/klinika/clinic-admin/internal/authz"
	jobmetrics "github.com/klinika/clinic-admin/internal/jobs"
)

var _ authz.Observer = (*Metrics)(nil)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobmetrics.NewMetrics(metrics.Registerer()).Track("permissions:grants_changed").End(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "clinicadmin_jobs_total") {
		t.Fatalf("expected body to contain clinicadmin_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestResolutionMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveResolution("ready", 3*time.Millisecond)
	metrics.ObserveResolution("ready", time.Millisecond)
	metrics.ObserveResolution("error", time.Millisecond)
	metrics.ObserveStaleResult()

	if got := testutil.ToFloat64(metrics.resolutions.WithLabelValues("ready")); got != 2 {
		t.Fatalf("expected 2 ready resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.resolutions.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed resolution, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.staleResults); got != 1 {
		t.Fatalf("expected 1 stale result, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveResolution("ready", time.Millisecond)
	nilMetrics.ObserveStaleResult()
}
