package auth

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// loginLimiter keeps one token bucket per email. Idle buckets are dropped.
type loginLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
}

// newLoginLimiter allows perMinute attempts per email; zero disables limiting.
func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute <= 0 {
		return &loginLimiter{limit: rate.Inf}
	}
	return &loginLimiter{
		limiters: cache.New(30*time.Minute, 10*time.Minute),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *loginLimiter) Allow(key string) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		l.limiters.SetDefault(key, limiter)
		return limiter.Allow()
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(key, limiter)
	return limiter.Allow()
}
