package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Per-IP rate limiting on top of golang.org/x/time/rate: one *rate.Limiter
// per client IP, built from the configured requests-per-minute and burst.
// Limiters for IPs that stop sending requests are evicted periodically so
// the map doesn't grow without bound under a scan or a botnet.

const limiterIdleTimeout = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out a per-IP token-bucket limiter.
type RateLimiter struct {
	perMin int
	burst  int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

// NewRateLimiter builds a limiter allowing ratePerMin requests per minute
// per IP, with the given burst capacity.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		perMin:   ratePerMin,
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
	}
	go rl.evictIdleLoop()
	return rl
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(float64(rl.perMin)/60.0), rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// Middleware returns a Gin handler enforcing the per-IP limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := rl.limiterFor(ip)
		res := limiter.Reserve()
		if !res.OK() {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			c.Header("Retry-After", delay.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": delay.String(),
				"limit":      fmt.Sprintf("%d requests/minute per IP", rl.perMin),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// evictIdleLoop drops limiters for IPs that have gone quiet for more than
// limiterIdleTimeout.
func (rl *RateLimiter) evictIdleLoop() {
	ticker := time.NewTicker(limiterIdleTimeout)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-limiterIdleTimeout)
		rl.mu.Lock()
		for ip, l := range rl.limiters {
			if l.lastSeen.Before(cutoff) {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}
