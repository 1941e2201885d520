package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Rrens/zyra/internal/api/response"
	"github.com/Rrens/zyra/internal/repository/redis"
	"github.com/rs/zerolog/log"
)

// Limiter counts requests per client key
type Limiter interface {
	Allow(ctx context.Context, key string) (redis.Decision, error)
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	limiter Limiter
	now     func() time.Time
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, now: time.Now}
}

// Limit applies rate limiting keyed by token subject, or client IP when
// the request is anonymous. X-RateLimit-Reset carries whole seconds until
// the window resets.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		decision, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			// Fail open when redis is unavailable
			log.Warn().Err(err).Str("client", key).Msg("Rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		reset := strconv.Itoa(decision.ResetSeconds(m.now()))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", reset)

		if !decision.Allowed {
			w.Header().Set("Retry-After", reset)
			response.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if subject, ok := GetSubject(r.Context()); ok {
		return "sub:" + subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
