package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"fieldops/pkg/platform/sentinel"
)

// =============================================================================
// Redis Counter Test Suite
// =============================================================================
// miniredis implements INCR/PTTL/PEXPIRE and lets the suite fast-forward past
// the window, which is the behaviour the fixed-window contract hinges on.

type RedisCounterSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *redis.Client
	counter *RedisCounter
	ctx     context.Context
}

func TestRedisCounterSuite(t *testing.T) {
	suite.Run(t, new(RedisCounterSuite))
}

func (s *RedisCounterSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.counter = NewRedisCounter(s.client)
	s.ctx = context.Background()
}

func (s *RedisCounterSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *RedisCounterSuite) TestIncrement() {
	s.Run("first increment sets the window expiry", func() {
		count, ttl, err := s.counter.Increment(s.ctx, "rate-limit:audit:first", time.Hour)
		s.Require().NoError(err)
		s.Equal(int64(1), count)
		s.Equal(time.Hour, ttl)
		s.Equal(time.Hour, s.mr.TTL("rate-limit:audit:first"))
	})

	s.Run("later increments do not extend the window", func() {
		key := "rate-limit:audit:fixed"
		_, _, err := s.counter.Increment(s.ctx, key, time.Hour)
		s.Require().NoError(err)

		s.mr.FastForward(20 * time.Minute)

		count, ttl, err := s.counter.Increment(s.ctx, key, time.Hour)
		s.Require().NoError(err)
		s.Equal(int64(2), count)
		s.Equal(40*time.Minute, ttl)
	})

	s.Run("window expiry resets the count", func() {
		key := "rate-limit:audit:expire"
		for range 5 {
			_, _, err := s.counter.Increment(s.ctx, key, time.Hour)
			s.Require().NoError(err)
		}

		s.mr.FastForward(time.Hour + time.Second)

		count, _, err := s.counter.Increment(s.ctx, key, time.Hour)
		s.Require().NoError(err)
		s.Equal(int64(1), count)
	})

	s.Run("key without expiry is repaired", func() {
		key := "rate-limit:audit:orphan"
		s.Require().NoError(s.mr.Set(key, "3"))

		count, ttl, err := s.counter.Increment(s.ctx, key, time.Hour)
		s.Require().NoError(err)
		s.Equal(int64(4), count)
		s.Equal(time.Hour, ttl)
		s.Equal(time.Hour, s.mr.TTL(key))
	})
}

func (s *RedisCounterSuite) TestIncrement_ConcurrentCallers() {
	key := "rate-limit:audit:concurrent"
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.counter.Increment(s.ctx, key, time.Hour)
			s.NoError(err)
		}()
	}
	wg.Wait()

	count, _, err := s.counter.Increment(s.ctx, key, time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(21), count)
}

func (s *RedisCounterSuite) TestIncrement_StoreUnavailable() {
	s.mr.Close()

	_, _, err := s.counter.Increment(s.ctx, "rate-limit:audit:down", time.Hour)
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

// =============================================================================
// In-Memory Counter
// =============================================================================

func TestInMemoryCounter_FixedWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := NewInMemoryCounter().WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, _, err := counter.Increment(ctx, "k", time.Hour)
		if err != nil || count != int64(i) {
			t.Fatalf("increment %d: count=%d err=%v", i, count, err)
		}
	}

	now = now.Add(30 * time.Minute)
	count, ttl, _ := counter.Increment(ctx, "k", time.Hour)
	if count != 4 || ttl != 30*time.Minute {
		t.Fatalf("expected count 4 with 30m left, got %d with %s", count, ttl)
	}

	now = now.Add(30 * time.Minute)
	count, ttl, _ = counter.Increment(ctx, "k", time.Hour)
	if count != 1 || ttl != time.Hour {
		t.Fatalf("expected a fresh window, got %d with %s", count, ttl)
	}
}
