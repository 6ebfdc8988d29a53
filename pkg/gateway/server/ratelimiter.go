package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client key. Each bucket refills at
// max per window and allows bursts of up to max requests.
type rateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	burst       int
	limit       rate.Limit
	clients     map[string]*clientBucket
	nextCleanup time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter returns nil when throttling is disabled.
func newRateLimiter(window time.Duration, max int) *rateLimiter {
	if window <= 0 || max <= 0 {
		return nil
	}

	return &rateLimiter{
		window:  window,
		burst:   max,
		limit:   rate.Every(window / time.Duration(max)),
		clients: make(map[string]*clientBucket),
	}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = bucket
	}
	bucket.lastSeen = now
	allowed := bucket.limiter.AllowN(now, 1)

	if r.nextCleanup.IsZero() || now.After(r.nextCleanup) {
		r.evictIdle(now)
		r.nextCleanup = now.Add(r.window)
	}

	return allowed
}

// evictIdle drops buckets unused for two windows; they would be full again.
func (r *rateLimiter) evictIdle(now time.Time) {
	threshold := now.Add(-2 * r.window)
	for key, bucket := range r.clients {
		if bucket.lastSeen.Before(threshold) {
			delete(r.clients, key)
		}
	}
}

func (r *rateLimiter) tracked() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
