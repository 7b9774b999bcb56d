package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/middleware"
)

const body = `{"TraceId":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","Title":"Quarterly revenue summary","Expression":"SUM(revenue) WHERE quarter = 'Q3' AND region = 'EMEA'"}`

type discardPublisher struct{}

func (discardPublisher) PublishEvent(context.Context, events.Event) error { return nil }

func newRouter(t *testing.T, limit int) http.Handler {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	limiter := ratelimit.New(limit, time.Minute)
	t.Cleanup(limiter.Stop)

	checker := health.NewChecker("gateway", time.Second)
	h := gwhandler.New(discardPublisher{}, nil, nil, m)
	return New(h, Options{
		Limiter:      limiter,
		Metrics:      m,
		Checker:      checker,
		AllowOrigins: []string{"https://reports.example.com"},
		Timeout:      5 * time.Second,
	})
}

func TestRoutes(t *testing.T) {
	r := newRouter(t, 100)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/reports/6ba7b810-9dad-11d1-80b4-00c04fd430c8", http.StatusNotImplemented},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(pkgmw.RequestIDHeader))
}

func TestRequestIDPropagated(t *testing.T) {
	r := newRouter(t, 100)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(pkgmw.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(pkgmw.RequestIDHeader))
}

func TestRateLimitedIngress(t *testing.T) {
	r := newRouter(t, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "health is never limited")
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(t, 100)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://reports.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://reports.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
