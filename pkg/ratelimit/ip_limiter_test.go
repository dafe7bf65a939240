package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiterBurst(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2, time.Minute)
	defer limiter.Stop()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	// other clients have their own bucket
	assert.True(t, limiter.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestIPRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	now = now.Add(30 * time.Second)
	limiter.Allow("10.0.0.2")
	assert.Equal(t, 2, limiter.Len())

	now = now.Add(45 * time.Second)
	limiter.Evict()

	assert.Equal(t, 1, limiter.Len())

	limiter.Stop()
	limiter.Stop()
}
