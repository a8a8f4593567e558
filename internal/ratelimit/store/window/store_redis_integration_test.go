//go:build integration

package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fieldops/internal/ratelimit/models"
	"fieldops/pkg/testutil/containers"
)

// Justification: miniredis covers the counting logic; this suite confirms the
// pipelined INCR/PTTL/PEXPIRE sequence against a real server.
type RedisCounterIntegrationSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	counter *RedisCounter
	ctx     context.Context
}

func TestRedisCounterIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisCounterIntegrationSuite))
}

func (s *RedisCounterIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	s.counter = NewRedisCounter(s.redis.Client)
}

func (s *RedisCounterIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisCounterIntegrationSuite) TestWindowIsSetOnceAndNotExtended() {
	key := models.Key(models.ScopeAudit, "user-1")

	count, ttl, err := s.counter.Increment(s.ctx, key, time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
	s.InDelta(time.Hour.Seconds(), ttl.Seconds(), 2)

	for range 4 {
		count, ttl, err = s.counter.Increment(s.ctx, key, 2*time.Hour)
		s.Require().NoError(err)
	}
	s.Equal(int64(5), count)
	s.LessOrEqual(ttl, time.Hour)
}

func (s *RedisCounterIntegrationSuite) TestRepairsKeyWithoutExpiry() {
	key := models.Key(models.ScopeAudit, "user-2")
	s.Require().NoError(s.redis.Client.Set(s.ctx, key, 3, 0).Err())

	count, ttl, err := s.counter.Increment(s.ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(4), count)
	s.Equal(time.Minute, ttl)

	remaining, err := s.redis.Client.PTTL(s.ctx, key).Result()
	s.Require().NoError(err)
	s.Positive(remaining)
}

func (s *RedisCounterIntegrationSuite) TestWindowExpires() {
	key := models.Key(models.ScopeAudit, "user-3")
	_, _, err := s.counter.Increment(s.ctx, key, 300*time.Millisecond)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		n, err := s.redis.Client.Exists(s.ctx, key).Result()
		return err == nil && n == 0
	}, 3*time.Second, 50*time.Millisecond)

	count, _, err := s.counter.Increment(s.ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}
