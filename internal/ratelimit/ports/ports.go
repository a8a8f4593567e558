// Package ports defines the interfaces the rate limiter depends on.
package ports

import (
	"context"
	"time"
)

// WindowCounter is an atomic fixed-window counter.
//
// Increment adds one to key and returns the new count and the remaining
// lifetime of the window. The window's expiry is set only by the increment
// that creates the key, so later increments never extend it.
type WindowCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}
