package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// RateLimit caps requests per client IP and route over window. A
// non-positive limit disables it.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	retryAfter := strconv.Itoa(int(window.Round(time.Second).Seconds()))
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", retryAfter)
			writeProblem(w, http.StatusTooManyRequests, "rate_limit", "rate limit exceeded")
		}),
	)
}
