package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// KeyFunc derives the bucket key for a request. An empty key means the
// client could not be identified and the request is rejected.
type KeyFunc func(*http.Request) string

// ByClientIP keys a shared bucket on the client address alone. Used by the
// protective limiter in front of the whole router.
func ByClientIP(ips *ClientIPExtractor) KeyFunc {
	return ips.FromRequest
}

// ByPathAndClientIP keys per-route buckets as "<path>:<client_ip>" so one
// route's burst cannot starve another.
func ByPathAndClientIP(ips *ClientIPExtractor) KeyFunc {
	return func(r *http.Request) string {
		ip := ips.FromRequest(r)
		if ip == "" {
			return ""
		}
		return r.URL.Path + ":" + ip
	}
}

// Middleware gates requests through the registry limiter of the given
// shape. Rejections answer 429 with a Retry-After hint; a limiter backend
// failure admits the request rather than taking the service down with it.
func Middleware(reg *Registry, capacity int, window time.Duration, keyFn KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	retryAfter := retryAfterSeconds(capacity, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				logger.Warn("client address unknown, rejecting", "path", r.URL.Path)
				writeLimitError(w, http.StatusBadRequest, "invalid_request",
					"unable to determine client IP for rate limiting")
				return
			}

			allowed, err := reg.For(capacity, window).Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, admitting request", "path", r.URL.Path, "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Warn("rate limit exceeded", "path", r.URL.Path, "key", key)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				writeLimitError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
					"Rate limit exceeded. Try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds is the wait for one full token to refill, rounded up.
func retryAfterSeconds(capacity int, window time.Duration) int {
	if capacity <= 0 {
		return int(math.Ceil(window.Seconds()))
	}
	secs := int(math.Ceil(window.Seconds() / float64(capacity)))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeLimitError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"error_description":%q}`, code, description)
}
