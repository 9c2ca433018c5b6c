package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per client
func NewRateLimiter(enabled bool, rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		enabled: enabled,
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from client may proceed
func (r *RateLimiter) Allow(client string) bool {
	if !r.enabled {
		return true
	}
	return r.getBucket(client).Allow()
}

func (r *RateLimiter) getBucket(client string) *rate.Limiter {
	now := time.Now()

	r.mu.RLock()
	b, exists := r.buckets[client]
	r.mu.RUnlock()
	if exists {
		r.mu.Lock()
		b.lastSeen = now
		r.mu.Unlock()
		return b.limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists := r.buckets[client]; exists {
		b.lastSeen = now
		return b.limiter
	}

	b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst), lastSeen: now}
	r.buckets[client] = b
	return b.limiter
}

// CleanupOldBuckets drops clients idle for longer than maxIdle
func (r *RateLimiter) CleanupOldBuckets(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for client, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, client)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine prunes idle buckets until ctx ends
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if !r.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldBuckets(time.Hour)
			}
		}
	}()
}
