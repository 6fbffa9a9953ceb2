//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"arp/internal/ratelimit/store"
	"arp/pkg/testutil/containers"
)

type RedisBucketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.Redis
}

func TestRedisBucketSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisBucketSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBucketSuite) TestAllowUntilExhausted() {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := s.store.Allow(ctx, "client-a", 3, time.Minute)
		s.Require().NoError(err)
		assert.True(s.T(), result.Allowed)
	}

	result, err := s.store.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(s.T(), err)
	assert.False(s.T(), result.Allowed)
	assert.GreaterOrEqual(s.T(), result.RetryAfter, 1)
}

func (s *RedisBucketSuite) TestWindowSlides() {
	ctx := context.Background()

	_, err := s.store.Allow(ctx, "client-a", 1, time.Second)
	s.Require().NoError(err)

	result, err := s.store.Allow(ctx, "client-a", 1, time.Second)
	s.Require().NoError(err)
	s.False(result.Allowed)

	time.Sleep(1100 * time.Millisecond)

	result, err = s.store.Allow(ctx, "client-a", 1, time.Second)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisBucketSuite) TestResetAndCount() {
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.store.Allow(ctx, "client-a", 5, time.Minute)
		s.Require().NoError(err)
	}

	count, err := s.store.Count(ctx, "client-a")
	s.Require().NoError(err)
	s.Equal(2, count)

	s.Require().NoError(s.store.Reset(ctx, "client-a"))
	count, err = s.store.Count(ctx, "client-a")
	s.Require().NoError(err)
	s.Equal(0, count)
}
