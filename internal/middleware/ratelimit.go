package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter bounds RPC calls per authenticated caller. Idle limiters
// expire from the cache.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	buckets *cache.Cache
	logger  *slog.Logger
}

// NewRateLimiter allows perMinute calls per caller with an equal burst.
func NewRateLimiter(perMinute int, logger *slog.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rate:    rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		buckets: cache.New(10*time.Minute, 5*time.Minute),
		logger:  logger,
	}
}

// Middleware must run after Authenticator.Middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller")
			return
		}

		if !rl.limiter(caller.ID).Allow() {
			rl.logger.Warn("rate limit exceeded", slog.String("account_id", caller.ID), slog.String("path", r.URL.Path))
			retryAfter := max(int(math.Ceil(1.0/float64(rl.rate))), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "resource-exhausted", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := rl.buckets.Get(key); ok {
		rl.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	if err := rl.buckets.Add(key, l, cache.DefaultExpiration); err != nil {
		// another request created it first
		if v, ok := rl.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}
