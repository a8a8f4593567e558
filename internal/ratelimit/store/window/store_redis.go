// Package window provides fixed-window counters for the rate limiter.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldops/pkg/platform/sentinel"
)

// RedisCounter counts with INCR and sets the window expiry on the first
// increment. Counters are shared by every process pointing at the same Redis.
type RedisCounter struct {
	client redis.Cmdable
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: increment %s: %v", sentinel.ErrUnavailable, key, err)
	}

	count := incr.Val()
	ttl := pttl.Val()
	// A negative TTL means the key has no expiry: either this increment created
	// it, or a previous creator died between INCR and PEXPIRE. Only that case
	// arms the window, so a live key's expiry is never moved forward. Two
	// racing creators may both arm it, milliseconds apart.
	if ttl < 0 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("%w: expire %s: %v", sentinel.ErrUnavailable, key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}
