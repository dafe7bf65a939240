package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/vaidashi/order-processing-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

var errServerFailure = errors.New("handler responded with a server error")

// GracefulDegradation sheds non-essential traffic while the API keeps failing
type GracefulDegradation struct {
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger
}

// NewGracefulDegradation creates a new graceful degradation middleware
func NewGracefulDegradation(config circuitbreaker.Config, logger logger.Logger) *GracefulDegradation {
	if config.Name == "" {
		config.Name = "http"
	}

	return &GracefulDegradation{
		breaker: circuitbreaker.New(config, logger),
		logger:  logger,
	}
}

// Middleware returns a middleware function
func (gd *GracefulDegradation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isEssentialEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		_, err := gd.breaker.Execute(func() (interface{}, error) {
			wrappedWriter := newStatusCodeWriter(w)
			next.ServeHTTP(wrappedWriter, r)

			if wrappedWriter.statusCode >= http.StatusInternalServerError {
				return nil, errServerFailure
			}
			return nil, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			gd.logger.Warn("Circuit is open, request rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"state", gd.breaker.State().String())

			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusServiceUnavailable, "Service is temporarily unavailable. Please try again later.")
		}
	})
}

// State returns the current breaker state
func (gd *GracefulDegradation) State() gobreaker.State {
	return gd.breaker.State()
}

// isEssentialEndpoint determines if an endpoint is essential and shouldn't be circuit broken
func isEssentialEndpoint(path string) bool {
	return path == "/health" ||
		path == "/api/v1/health" ||
		path == "/metrics" ||
		strings.HasPrefix(path, "/api/v1/admin")
}

// statusCodeWriter is a wrapper around http.ResponseWriter that captures the status code
type statusCodeWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusCodeWriter(w http.ResponseWriter) *statusCodeWriter {
	return &statusCodeWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and passes it to the wrapped ResponseWriter
func (scw *statusCodeWriter) WriteHeader(code int) {
	scw.statusCode = code
	scw.ResponseWriter.WriteHeader(code)
}
