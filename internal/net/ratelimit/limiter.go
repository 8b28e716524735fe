// Package ratelimit throttles outbound calls to broker and data venues.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-venue rate limiting using a token bucket. All venues
// under one Limiter share the same RPS and burst settings; each venue gets
// its own bucket.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter with the given requests-per-second and burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(venue string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[venue]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if limiter, exists := l.limiters[venue]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[venue] = limiter
	return limiter
}

// Allow reports whether a request to the venue may proceed now.
func (l *Limiter) Allow(venue string) bool {
	return l.getLimiter(venue).Allow()
}

// Wait blocks until a request to the venue is allowed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, venue string) error {
	return l.getLimiter(venue).Wait(ctx)
}

// Stats returns a point-in-time view of every venue bucket.
func (l *Limiter) Stats() map[string]VenueStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]VenueStats, len(l.limiters))
	now := time.Now()
	for venue, limiter := range l.limiters {
		r := limiter.Reserve()
		delay := r.Delay()
		r.Cancel() // only probing

		stats[venue] = VenueStats{
			Venue:           venue,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
		}
	}
	return stats
}

// VenueStats describes one venue's bucket state.
type VenueStats struct {
	Venue           string    `json:"venue"`
	RPS             float64   `json:"rps"`
	Burst           int       `json:"burst"`
	TokensAvailable float64   `json:"tokens_available"`
	NextAllowedAt   time.Time `json:"next_allowed_at"`
}
