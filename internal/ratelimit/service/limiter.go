// Package service decides whether a request fits its fixed-window quota.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"fieldops/internal/ratelimit/metrics"
	"fieldops/internal/ratelimit/models"
	"fieldops/internal/ratelimit/ports"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/requestcontext"
)

type Counter = ports.WindowCounter

// Limiter checks fixed-window quotas against a shared counter.
//
// When the counter is absent or unreachable the outcome depends on the
// deployment mode: development allows the request and logs a warning,
// production rejects it with a configuration error.
type Limiter struct {
	counter    Counter
	production bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithProduction switches store failures from fail-open to fail-closed.
func WithProduction(production bool) Option {
	return func(l *Limiter) {
		l.production = production
	}
}

// New accepts a nil counter: that is the "store not configured" case and is
// handled per deployment mode on every Check.
func New(counter Counter, opts ...Option) *Limiter {
	l := &Limiter{
		counter: counter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check consumes one unit of scope's quota for identity.
func (l *Limiter) Check(ctx context.Context, scope, identity string, policy models.Policy) (*models.RateLimitResult, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return nil, dErrors.New(dErrors.CodeMisconfigured, "rate limit policy must be positive")
	}
	now := requestcontext.Now(ctx)

	if l.counter == nil {
		return l.storeFailure(ctx, scope, policy, now, errors.New("counter store not configured"))
	}

	key := models.Key(scope, identity)
	count, ttl, err := l.counter.Increment(ctx, key, policy.Window)
	if err != nil {
		return l.storeFailure(ctx, scope, policy, now, err)
	}

	result := &models.RateLimitResult{
		Allowed:   count <= int64(policy.Limit),
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-int(count), 0),
		ResetAt:   now.Add(ttl),
	}
	if !result.Allowed {
		result.RetryAfter = max(int(math.Ceil(ttl.Seconds())), 1)
		l.metrics.Record(scope, "denied")
		l.logger.InfoContext(ctx, "rate limit exceeded",
			"scope", scope,
			"key", key,
			"count", count,
			"limit", policy.Limit,
			"retry_after", result.RetryAfter,
		)
		return result, nil
	}
	l.metrics.Record(scope, "allowed")
	return result, nil
}

func (l *Limiter) storeFailure(ctx context.Context, scope string, policy models.Policy, now time.Time, cause error) (*models.RateLimitResult, error) {
	if l.production {
		l.metrics.Record(scope, "fail_closed")
		l.logger.ErrorContext(ctx, "rate limit store unavailable in production",
			"scope", scope,
			"error", cause,
		)
		return nil, dErrors.Wrap(cause, dErrors.CodeMisconfigured, "rate limiter unavailable")
	}

	l.metrics.Record(scope, "fail_open")
	l.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
		"scope", scope,
		"error", cause,
	)
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   now.Add(policy.Window),
		Degraded:  true,
	}, nil
}
