package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client token bucket, with a stricter bucket
// for tokenless (anonymous) connections, matching §4.7's "tokenless
// clients are limited more aggressively than authenticated ones."
// rpm <= 0 disables limiting entirely, matching the teacher's
// backward-compatible NewRateLimiter(0, burst) convention.
type RateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	authRPM      int
	anonRPM      int
	burst        int
}

// NewRateLimiter builds a RateLimiter. authRPM/anonRPM <= 0 disables that
// bucket (allow everything).
func NewRateLimiter(authRPM, anonRPM int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		authRPM:  authRPM,
		anonRPM:  anonRPM,
		burst:    5,
	}
}

// Enabled reports whether either bucket actually limits traffic.
func (r *RateLimiter) Enabled() bool { return r.authRPM > 0 || r.anonRPM > 0 }

// Allow reports whether clientID may proceed with one more request right
// now, consuming a token from its bucket (the anonymous bucket if anon).
func (r *RateLimiter) Allow(clientID string, anon bool) bool {
	rpm := r.authRPM
	if anon {
		rpm = r.anonRPM
	}
	if rpm <= 0 {
		return true
	}

	key := clientID
	if anon {
		key = "anon:" + clientID
	}

	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), r.burst)
		r.limiters[key] = lim
	}
	r.mu.Unlock()

	return lim.Allow()
}

// Forget drops a client's bucket on disconnect so limiters don't
// accumulate forever across reconnecting clients.
func (r *RateLimiter) Forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, clientID)
	delete(r.limiters, "anon:"+clientID)
}
