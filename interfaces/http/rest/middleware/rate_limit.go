package middleware

import (
	"net"
	"net/http"
	"strconv"

	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"
	"github.com/tianshipapa/doubandai/pkg/ratelimit"
)

// RateLimit rejects clients over their budget with 429. Clients are keyed by
// remote IP, so RealIP must run first when behind a load balancer.
func RateLimit(limiter *ratelimit.TokenBucket, errorHandler *pkgerrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.Context(), clientIP(r)) {
				retryAfter := 60/limiter.Limit() + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				errorHandler.Handle(w, r, pkgerrors.NewRateLimitError(limiter.Limit(), "minute").
					WithDetails(map[string]interface{}{"retry_after_seconds": retryAfter}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
