package toolrun

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-user, per-tool execute rates.
type RateLimiter struct {
	defaultPerMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a RateLimiter with the given default per-minute
// rate for tools that do not override it.
func NewRateLimiter(defaultPerMinute int) *RateLimiter {
	if defaultPerMinute <= 0 {
		defaultPerMinute = 10
	}
	return &RateLimiter{
		defaultPerMinute: defaultPerMinute,
		limiters:         make(map[string]*rate.Limiter),
	}
}

// Allow reports whether userID may execute the tool now.
func (l *RateLimiter) Allow(userID string, t Tool) bool {
	perMinute := t.RatePerMinute
	if perMinute <= 0 {
		perMinute = l.defaultPerMinute
	}

	key := userID + "\x00" + t.ID

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
