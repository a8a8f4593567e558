package models

import "time"

// Scopes name independent quotas; each has its own counter per identity.
const (
	ScopeAudit = "audit"
)

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed

	// Degraded is set when the counter store was unavailable and the check
	// was allowed without counting.
	Degraded bool `json:"-"`
}

// Policy is a quota: Limit requests per fixed Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// UserRateLimitExceededResponse is the API response when a user's quota is exceeded.
type UserRateLimitExceededResponse struct {
	Error          string    `json:"error"`
	Message        string    `json:"message"`
	QuotaLimit     int       `json:"quota_limit"`
	QuotaRemaining int       `json:"quota_remaining"`
	QuotaReset     time.Time `json:"quota_reset"`
	RetryAfter     int       `json:"retry_after"`
}
