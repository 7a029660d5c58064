package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 300
	rateLimitMaxUser = 200
)

type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{times: make(map[string][]time.Time), max: max, window: window}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.max {
		return false
	}
	r.times[key] = append(slice, now)
	return true
}

// clientIP is the peer address. Behind a proxy chi's RealIP, mounted first, rewrites RemoteAddr
// from the forwarding headers.
func clientIP(r *http.Request) string {
	return peerIP(r)
}

// RateLimitAPI is a sliding one-minute limit per client IP and, after SessionAuth, per user.
// Exceeding either answers 429. Each call returns a limiter with its own counters.
func RateLimitAPI() func(http.Handler) http.Handler {
	return RateLimit(rateLimitMaxIP, rateLimitMaxUser, rateLimitWindow)
}

func RateLimit(maxIP, maxUser int, window time.Duration) func(http.Handler) http.Handler {
	byIP := newRateLimiter(maxIP, window)
	byUser := newRateLimiter(maxUser, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow(userID) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
