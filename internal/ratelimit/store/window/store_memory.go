package window

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count     int64
	expiresAt time.Time
}

// InMemoryCounter is a single-process fixed-window counter used by tests.
type InMemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewInMemoryCounter() *InMemoryCounter {
	return &InMemoryCounter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests to cross window boundaries.
func (c *InMemoryCounter) WithClock(now func() time.Time) *InMemoryCounter {
	c.now = now
	return c
}

func (c *InMemoryCounter) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &entry{expiresAt: now.Add(window)}
		c.entries[key] = e
	}
	e.count++
	return e.count, e.expiresAt.Sub(now), nil
}
