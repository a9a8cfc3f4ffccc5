// ratelimit.go - Per client rate limiting for the API.

package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// ClientRateLimiter keeps one token bucket per client key.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewClientRateLimiter allows each client limit requests per second with bursts of burst.
func NewClientRateLimiter(limit rate.Limit, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Allow checks if a request from a client is allowed and consumes a token if so.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Reset forgets the bucket of one client.
func (l *ClientRateLimiter) Reset(client string) {
	l.mu.Lock()
	delete(l.limiters, client)
	l.mu.Unlock()
}

// ResetAll forgets every bucket.
func (l *ClientRateLimiter) ResetAll() {
	l.mu.Lock()
	l.limiters = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}
