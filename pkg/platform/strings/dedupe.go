// Package strings holds small helpers for comma-separated configuration lists.
package strings

import (
	"strings"
)

// SplitList splits raw on commas and passes the parts through DedupeAndTrim.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, ","))
}

// DedupeAndTrim drops blank and repeated entries after trimming. First
// occurrence wins, so order is preserved.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower also lowercases, for hosts and origins.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
