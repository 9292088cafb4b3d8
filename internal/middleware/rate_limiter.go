package middleware

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haxaco/payos-sub010/internal/apierr"
)

// RateLimiter enforces per-tenant, per-agent request rates with a sliding
// one-minute window. Expired windows are garbage-collected periodically.
type RateLimiter struct {
	mu       sync.RWMutex
	windows  map[string]*rateLimitWindow
	defaults RateLimitConfig
	logger   *log.Logger
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	MaxCallsPerMinute int // default max calls per minute per key
	BurstSize         int // temporary bursts above the limit
}

// count is atomic so the fast path can increment it under the read lock.
type rateLimitWindow struct {
	count       atomic.Int64
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter with the given defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxCallsPerMinute == 0 {
		cfg.MaxCallsPerMinute = 60
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute * 2
	}

	rl := &RateLimiter{
		windows:  make(map[string]*rateLimitWindow),
		defaults: cfg,
		logger:   log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}

	go rl.cleanup()

	return rl
}

// Allow checks whether a request from the given key (tenantID:agentID)
// is within limits.
//
// Read-first: only acquires the write lock when a new window must be
// created.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.RLock()
	window, exists := rl.windows[key]
	if exists && now.Sub(window.windowStart) <= time.Minute {
		count := int(window.count.Add(1))
		rl.mu.RUnlock()

		if count > rl.defaults.BurstSize {
			rl.logger.Printf("🚫 rate limit exceeded (burst): key=%s count=%d limit=%d",
				key, count, rl.defaults.BurstSize)
			return false
		}
		if count > rl.defaults.MaxCallsPerMinute {
			rl.logger.Printf("⚠️ rate limit exceeded: key=%s count=%d limit=%d",
				key, count, rl.defaults.MaxCallsPerMinute)
			return false
		}
		return true
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Another goroutine may have created the window meanwhile.
	window, exists = rl.windows[key]
	if exists && now.Sub(window.windowStart) <= time.Minute {
		return int(window.count.Add(1)) <= rl.defaults.BurstSize
	}

	window = &rateLimitWindow{windowStart: now}
	window.count.Store(1)
	rl.windows[key] = window
	return true
}

// Middleware enforces the limit and emits the standard RATE_LIMITED
// envelope with Retry-After when exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := TenantFrom(r.Context())
		if tenantID == "" {
			tenantID = "default"
		}
		agentID := r.Header.Get("X-Agent-ID")
		if agentID == "" {
			agentID = "anonymous"
		}

		key := tenantID + ":" + agentID

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "60")
			writeAuthError(w, r, apierr.New(apierr.CodeRateLimited, "rate limit exceeded").
				With("retry_after_seconds", 60).
				With("limit_per_minute", rl.defaults.MaxCallsPerMinute))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanup periodically removes expired windows to prevent memory leaks.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, window := range rl.windows {
			if now.Sub(window.windowStart) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_windows":    len(rl.windows),
		"max_calls_per_min": rl.defaults.MaxCallsPerMinute,
		"burst_size":        rl.defaults.BurstSize,
	}
}
