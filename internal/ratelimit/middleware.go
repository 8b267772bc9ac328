package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/haven-crm/haven/internal/platform/httpx"
)

// KeyFunc derives the identifier a request is counted under.
type KeyFunc func(r *http.Request) (string, error)

// KeyByIP counts requests per client address. chi's RealIP middleware should
// run first so proxies are unwrapped.
func KeyByIP(r *http.Request) (string, error) {
	return httprate.KeyByIP(r)
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	Name    string
	Checker Checker
	Limit   int
	Key     KeyFunc
	// OnReject is invoked with Name for every rejected request.
	OnReject func(name string)
	Logger   *slog.Logger
}

// Middleware rejects requests over the limit with 429 and X-RateLimit headers.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	key := cfg.Key
	if key == nil {
		key = KeyByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Checker == nil {
				next.ServeHTTP(w, r)
				return
			}
			id, err := key(r)
			if err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("rate limit key", slog.String("limiter", cfg.Name), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unable to identify client")
				return
			}
			decision := cfg.Checker.Check(id, cfg.Limit)
			SetHeaders(w, decision)
			if !decision.Allowed {
				if cfg.OnReject != nil {
					cfg.OnReject(cfg.Name)
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(decision), 10))
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the X-RateLimit-* headers for a decision.
func SetHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func retryAfterSeconds(d Decision) int64 {
	secs := int64(math.Ceil(d.ResetIn.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
