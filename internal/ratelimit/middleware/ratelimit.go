package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"fieldops/internal/ratelimit/models"
	"fieldops/pkg/platform/httputil"
	"fieldops/pkg/requestcontext"
)

type RateLimiter interface {
	Check(ctx context.Context, scope, identity string, policy models.Policy) (*models.RateLimitResult, error)
}

type Middleware struct {
	limiter  RateLimiter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for load tests and demos).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimitUser enforces policy per authenticated user. It must run after
// RequireAuth; anonymous requests pass through so the handler can reject them.
func (m *Middleware) RateLimitUser(scope string, policy models.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			userID := requestcontext.UserID(ctx)
			if userID.IsNil() {
				next.ServeHTTP(w, r)
				return
			}

			result, err := m.limiter.Check(ctx, scope, userID.String(), policy)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"user_id", userID,
					"scope", scope,
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}

			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeUserRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil || result.Degraded {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeUserRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.UserRateLimitExceededResponse{
		Error:          "rate_limited",
		Message:        "You have exceeded your audit request quota. Please try again later.",
		QuotaLimit:     result.Limit,
		QuotaRemaining: result.Remaining,
		QuotaReset:     result.ResetAt,
		RetryAfter:     result.RetryAfter,
	})
}
