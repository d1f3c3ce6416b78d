package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "tgcast/pkg/logx"
)

func TestMetricsCountersAndNilSafety(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.Send("text", true)
	m.Send("text", false)
	m.Send("text", false)
	m.Dispatch("partially_sent")

	if got := testutil.ToFloat64(m.sends.WithLabelValues("text", "failed")); got != 2 {
		t.Fatalf("failed sends = %v", got)
	}
	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("partially_sent")); got != 1 {
		t.Fatalf("dispatches = %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Send("text", true)
	nilMetrics.Tick("ok", 0)
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.Attempt()
	var healthErr error
	s := NewServer(Config{Enabled: true, Token: "secret"}, m, func(context.Context) error { return healthErr }, logx.Nop())
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz = %d", rec.Code)
	}
	healthErr = errors.New("storage down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/healthz unhealthy = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("/metrics without token = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tgcast_send_attempts_total 1") {
		t.Fatalf("/metrics = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:9090": true,
		"[::1]:9090":     true,
		"0.0.0.0:9090":   false,
		":9090":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
