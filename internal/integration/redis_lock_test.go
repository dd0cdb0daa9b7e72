//go:build integration

package integration_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/weather-collector/internal/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()
	ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start redis container")

	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rdb := startRedis(ctx, t)
	// Two lockers sharing one server behave like two processes.
	lockers := []*lock.RedisLocker{
		lock.NewRedisLocker(rdb, 5*time.Second, discardLogger()),
		lock.NewRedisLocker(rdb, 5*time.Second, discardLogger()),
	}

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lockers[i%2].Lock(ctx, "Moscow,ru")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	n, err := rdb.Exists(ctx, "weather-collector:lock:Moscow,ru").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "lease is deleted on release")
}

func TestRedisLocker_LeaseExpires(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rdb := startRedis(ctx, t)
	l := lock.NewRedisLocker(rdb, 200*time.Millisecond, discardLogger())

	_, err := l.Lock(ctx, "A") // never released
	require.NoError(t, err)

	lockCtx, lockCancel := context.WithTimeout(ctx, 5*time.Second)
	defer lockCancel()
	release, err := l.Lock(lockCtx, "A")
	require.NoError(t, err, "abandoned lease should expire")
	release()
	require.NoError(t, l.Ping(ctx))
}
