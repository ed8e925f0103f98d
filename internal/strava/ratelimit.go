package strava

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Strava rate limits:
// - 100 requests per 15 minutes, windows start at :00, :15, :30 and :45
// - 1000 requests per day, resetting at midnight UTC
//
// The limiter never sleeps. When the budget is spent it tells the caller how
// long to wait and the sync stops with a rate-limited result instead.

const shortWindow = 15 * time.Minute

// RateLimiter tracks Strava API usage from response headers
type RateLimiter struct {
	mu sync.Mutex

	shortLimit int
	shortUsage int
	dailyLimit int
	dailyUsage int

	// start of the windows the usage counts belong to
	windowStart time.Time
	dayStart    time.Time
}

// NewRateLimiter creates a new rate limiter with Strava's default limits
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		shortLimit: 100,
		dailyLimit: 1000,
	}
}

// Allow reserves one request. When either budget is exhausted it returns
// false and the time until the exhausted window resets.
func (r *RateLimiter) Allow(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roll(now)

	if r.dailyUsage >= r.dailyLimit {
		return false, untilMidnightUTC(now)
	}
	if r.shortUsage >= r.shortLimit {
		return false, untilNextWindow(now)
	}

	r.shortUsage++
	r.dailyUsage++
	return true, 0
}

// RetryHint estimates when a rejected request may be retried
func (r *RateLimiter) RetryHint(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roll(now)
	if r.dailyUsage >= r.dailyLimit {
		return untilMidnightUTC(now)
	}
	return untilNextWindow(now)
}

// UpdateFromHeaders updates rate limit state from Strava response headers
func (r *RateLimiter) UpdateFromHeaders(h http.Header, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roll(now)

	// Strava returns: X-RateLimit-Limit: "100,1000" and X-RateLimit-Usage: "34,512"
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Usage")); ok {
		r.shortUsage = short
		r.dailyUsage = daily
	}
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Limit")); ok {
		r.shortLimit = short
		r.dailyLimit = daily
	}
}

// Status returns current rate limit status
func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortLimit - r.shortUsage, r.dailyLimit - r.dailyUsage
}

// Usage returns current usage counts
func (r *RateLimiter) Usage() (shortUsage, dailyUsage int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortUsage, r.dailyUsage
}

// roll resets counters whose window has passed. Caller holds mu.
func (r *RateLimiter) roll(now time.Time) {
	window := now.UTC().Truncate(shortWindow)
	day := now.UTC().Truncate(24 * time.Hour)

	if !window.Equal(r.windowStart) {
		r.shortUsage = 0
		r.windowStart = window
	}
	if !day.Equal(r.dayStart) {
		r.dailyUsage = 0
		r.dayStart = day
	}
}

func parsePair(v string) (int, int, bool) {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

func untilNextWindow(now time.Time) time.Duration {
	next := now.UTC().Truncate(shortWindow).Add(shortWindow)
	return next.Sub(now)
}

func untilMidnightUTC(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
