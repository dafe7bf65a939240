package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	cleanup  *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewIPRateLimiter creates a new IPRateLimiter allowing rps requests per
// second per IP with the given burst. Buckets idle for idleTTL are evicted.
func NewIPRateLimiter(rps float64, burst int, idleTTL time.Duration) *IPRateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	limiter := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		cleanup:  time.NewTicker(idleTTL),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow checks if a request from the given IP can proceed
func (ipl *IPRateLimiter) Allow(ip string) bool {
	return ipl.getLimiter(ip).AllowN(ipl.now(), 1)
}

func (ipl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	v, exists := ipl.visitors[ip]

	if !exists {
		v = &visitor{limiter: rate.NewLimiter(ipl.limit, ipl.burst)}
		ipl.visitors[ip] = v
	}

	v.lastSeen = ipl.now()
	return v.limiter
}

// Len returns the number of tracked IPs
func (ipl *IPRateLimiter) Len() int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	return len(ipl.visitors)
}

// Evict drops buckets not used within idleTTL
func (ipl *IPRateLimiter) Evict() {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	cutoff := ipl.now().Add(-ipl.idleTTL)

	for ip, v := range ipl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(ipl.visitors, ip)
		}
	}
}

func (ipl *IPRateLimiter) cleanupLoop() {
	for {
		select {
		case <-ipl.cleanup.C:
			ipl.Evict()
		case <-ipl.stopChan:
			ipl.cleanup.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (ipl *IPRateLimiter) Stop() {
	ipl.stopOnce.Do(func() { close(ipl.stopChan) })
}
