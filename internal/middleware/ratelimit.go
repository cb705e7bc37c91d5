package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evaltra/evaltra-backend/internal/response"
)

// RateLimiter throttles per client IP. It guards the attempt entry
// routes, where a leaked exam code invites password guessing; everything
// past entry is already gated by a session token.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	interval time.Duration
}

type bucket struct {
	remaining int
	refilled  time.Time
}

// NewRateLimiter allows capacity requests per interval from one IP.
func NewRateLimiter(capacity int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		interval: interval,
	}
	go rl.janitor()
	return rl
}

// Middleware rejects over-limit requests with 429 inside the standard
// envelope so clients keep a single error decoder.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{remaining: rl.capacity, refilled: now}
		rl.buckets[ip] = b
	}

	if elapsed := now.Sub(b.refilled); elapsed >= rl.interval {
		b.remaining = rl.capacity
		b.refilled = now
	}

	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// janitor drops buckets idle for several intervals so the map does not
// grow with every IP that ever touched the entry route.
func (rl *RateLimiter) janitor() {
	stale := 3 * rl.interval
	if stale < 3*time.Minute {
		stale = 3 * time.Minute
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-stale)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if b.refilled.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}
