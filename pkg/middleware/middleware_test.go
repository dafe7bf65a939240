package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-processing-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Success)
	assert.False(t, *body.Success)
	assert.NotEmpty(t, body.Error)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	m := NewRateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 2}, logger.NewNop())
	defer m.Stop()

	handler := m.Middleware(statusHandler(http.StatusOK))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assertErrorEnvelope(t, last)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.RemoteAddr = "192.0.2.2:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterForwardedFor(t *testing.T) {
	m := NewRateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, TrustForwardedFor: true}, logger.NewNop())
	defer m.Stop()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", m.getClientIP(req))
}

func TestGracefulDegradationOpensOnServerErrors(t *testing.T) {
	gd := NewGracefulDegradation(circuitbreaker.Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	}, logger.NewNop())

	failing := gd.Middleware(statusHandler(http.StatusInternalServerError))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	assert.Equal(t, gobreaker.StateOpen, gd.State())

	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assertErrorEnvelope(t, rec)

	// health and admin stay reachable while open
	healthy := gd.Middleware(statusHandler(http.StatusOK))
	for _, path := range []string{"/health", "/api/v1/health", "/metrics", "/api/v1/admin/sweeps"} {
		rec := httptest.NewRecorder()
		healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestGracefulDegradationIgnoresClientErrors(t *testing.T) {
	gd := NewGracefulDegradation(circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute}, logger.NewNop())

	handler := gd.Middleware(statusHandler(http.StatusNotFound))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/9", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, gobreaker.StateClosed, gd.State())
}

type observation struct {
	route, method, status string
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (o *recordingObserver) ObserveRequest(route, method, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observation{route, method, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &recordingObserver{}

	router := mux.NewRouter()
	router.Use(Metrics(observer))
	router.Handle("/api/v1/orders/{id}", statusHandler(http.StatusNotFound)).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/17", nil))

	require.Len(t, observer.seen, 1)
	assert.Equal(t, observation{"/api/v1/orders/{id}", http.MethodGet, "404"}, observer.seen[0])
}
