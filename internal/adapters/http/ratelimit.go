package http

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig throttles API callers by client IP. It protects the service API itself
// and is independent of the login attempt window.
type RateLimitConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(50),
		Burst:           100,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ClientRateLimiter keeps one token bucket per client IP and evicts idle buckets.
type ClientRateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewClientRateLimiter starts the background eviction loop; call Stop on shutdown.
func NewClientRateLimiter(cfg RateLimitConfig) *ClientRateLimiter {
	d := DefaultRateLimitConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = d.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = d.CleanupInterval
	}
	rl := &ClientRateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *ClientRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := readIP(r)
		if !rl.limiterFor(client, time.Now()).Allow() {
			retryAfter := int(math.Ceil(1.0 / float64(rl.cfg.Rate)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httpLogger().WarnContext(r.Context(), "api rate limit exceeded",
				"operation", "api_rate_limit",
				"outcome", "denied",
				"client_ip", client,
				"request_id", requestIDFromContext(r.Context()),
			)
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len reports how many client buckets are held.
func (rl *ClientRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *ClientRateLimiter) limiterFor(client string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cl, ok := rl.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.limiters[client] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}

func (rl *ClientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rl.evictIdle(now)
		case <-rl.stopCh:
			return
		}
	}
}

// evictIdle drops buckets untouched for two cleanup intervals.
func (rl *ClientRateLimiter) evictIdle(now time.Time) {
	ttl := 2 * rl.cfg.CleanupInterval
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, client)
		}
	}
}
