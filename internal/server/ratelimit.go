package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces a per-client sliding-minute request limit.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	clients           map[string]*clientUsage
}

type clientUsage struct {
	requestsLastMinute int
	windowStart        time.Time
}

// RateLimitError reports an exceeded limit and when to retry.
type RateLimitError struct {
	Type       string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s", e.Limit, e.Type)
}

// NewRateLimiter creates a rate limiter. A non-positive limit disables it.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		clients:           make(map[string]*clientUsage),
	}
}

// Check admits or rejects one request from the given client.
func (rl *RateLimiter) Check(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &clientUsage{windowStart: now}
		rl.clients[clientID] = usage
	}

	if now.Sub(usage.windowStart) >= time.Minute {
		usage.requestsLastMinute = 0
		usage.windowStart = now
	}

	if usage.requestsLastMinute >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: time.Minute - now.Sub(usage.windowStart),
		}
	}

	usage.requestsLastMinute++
	return nil
}
