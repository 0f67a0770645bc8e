package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/Njanja2025/control-plane/internal/config"
	cperrors "github.com/Njanja2025/control-plane/internal/errors"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"golang.org/x/time/rate"
)

// RateLimiter manages per-client token buckets for the control-plane API
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logger.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.BurstSize,
		logger:   log.MiddlewareLogger("rate_limiter"),
	}
}

// getLimiter gets or creates a rate limiter for a client IP
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		// Bounded cache; a full reset is cheaper than tracking LRU state
		// for short-lived clients.
		if len(rl.limiters) > 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
			rl.logger.Info("Cleaned up rate limiter cache")
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = limiter
	}

	return limiter
}

// Middleware enforces the per-client rate limit
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.getLimiter(ip).Allow() {
				rl.logger.WithField("client_ip", ip).Warn("Rate limit exceeded")

				cpErr := cperrors.NewRateLimitError(ip)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cpErr.HTTPStatusCode())
				json.NewEncoder(w).Encode(cpErr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, without the port when present
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
