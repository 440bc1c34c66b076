package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mena-commerce/nbe-checkout/internal/common"
)

// Config describes one rate-limited surface: how to derive the client key
// and the window thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces a limit in front of the checkout and callback endpoints.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware applies the limit. Limiter errors fail open so a Redis outage
// never blocks payment callbacks from the gateway.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		writeLimitHeaders(w, h.Config.Max, remaining, resetAt)
		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, retry later", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeLimitHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	if limit < 0 {
		limit = 0
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
