package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"golang.org/x/time/rate"
)

// Admin listings of customer data accept this many requests per caller and
// window.
const (
	ListingRateLimit  = 10
	ListingRateWindow = time.Minute
)

const codeRateLimited = "RATE_LIMITED"

// RateLimiter decides whether a request keyed by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalRateLimiter keeps one token bucket per key in process memory.
type LocalRateLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

// RateLimit limits each authenticated caller. Limiter errors let the
// request through.
func (h *Handlers) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := callerFrom(c)
		if caller == nil {
			abortWith(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}

		ok, err := h.limiter.Allow(c.Request.Context(), c.FullPath()+":"+caller.UserID)
		if err != nil {
			h.logger.Warn("Rate limiter unavailable", logging.Fields{"error": err.Error()})
			c.Next()
			return
		}
		if !ok {
			h.logger.Warn("Rate limit exceeded", logging.Fields{
				"user_id": caller.UserID,
				"path":    c.FullPath(),
			})
			abortWith(c, http.StatusTooManyRequests, codeRateLimited, "Rate limit exceeded. Please try again later.")
			return
		}
		c.Next()
	}
}
