package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a user-controlled identifier containing ':' cannot address another bucket.
//
// Example: an identifier "user:admin" becomes "user_admin".
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

const keyPrefix = "rate-limit"

// Key builds the counter key for a scope and an identity, e.g.
// rate-limit:audit:<user id>.
func Key(scope, identity string) string {
	return keyPrefix + ":" + SanitizeKeySegment(scope) + ":" + SanitizeKeySegment(identity)
}
