package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/vaidashi/order-processing-api/pkg/logger"
)

// Config configures a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenMaxCalls uint32
}

// New creates a breaker that opens after FailureThreshold consecutive
// failures and probes with HalfOpenMaxCalls requests after ResetTimeout
func New(config Config, logger logger.Logger) *gobreaker.CircuitBreaker {
	threshold := config.FailureThreshold

	if threshold == 0 {
		threshold = 1
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenMaxCalls,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	})
}
