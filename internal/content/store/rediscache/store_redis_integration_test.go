//go:build integration

package rediscache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lms/internal/content/store"
	"lms/internal/content/store/memory"
	"lms/internal/content/store/rediscache"
	"lms/internal/content/store/storetest"
	"lms/pkg/testutil/containers"
)

// RedisCachedBackendSuite runs the backend contract through the cache so
// eviction bugs surface as stale reads.
type RedisCachedBackendSuite struct {
	storetest.BackendSuite
	redis *containers.RedisContainer
}

func TestRedisCachedBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCachedBackendSuite))
}

func (s *RedisCachedBackendSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.NewBackend = func() store.Backend {
		cached, err := rediscache.New(memory.New(), s.redis.Client, rediscache.WithTTL(time.Minute))
		s.Require().NoError(err)
		return cached
	}
}

func (s *RedisCachedBackendSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.BackendSuite.SetupTest()
}
