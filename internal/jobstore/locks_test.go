package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewWithClients(nil, rdb, "test"), mr
}

func TestAcquireLock_ExcludesSecondHolder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "email-poll", "worker-a", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLock(ctx, "email-poll", "worker-b", 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second worker must not acquire a held concurrency key")
}

func TestReleaseLock_OnlyReleasesOwnToken(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, "email-poll", "worker-a", 5*time.Minute)
	require.NoError(t, err)

	// A token that does not hold the lock (worker-b) must not be able to
	// release worker-a's lock.
	require.NoError(t, s.ReleaseLock(ctx, "email-poll", "worker-b"))
	require.True(t, mr.Exists("test:lock:email-poll"), "lock must survive a release from the wrong token")

	require.NoError(t, s.ReleaseLock(ctx, "email-poll", "worker-a"))
	require.False(t, mr.Exists("test:lock:email-poll"))
}

func TestRenewLock_ExtendsTTLOnlyForOwner(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, "csv:key.csv", "worker-a", 1*time.Minute)
	require.NoError(t, err)

	renewed, err := s.RenewLock(ctx, "csv:key.csv", "worker-a", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, renewed)

	ttl := mr.TTL("test:lock:csv:key.csv")
	require.Greater(t, ttl, 5*time.Minute)

	renewed, err = s.RenewLock(ctx, "csv:key.csv", "worker-b", 10*time.Minute)
	require.NoError(t, err)
	require.False(t, renewed, "a non-owner must not be able to renew")
}

func TestTryAcquireLeader_SingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	won, err := s.TryAcquireLeader(ctx, "scheduler", "instance-1", time.Second)
	require.NoError(t, err)
	require.True(t, won)

	won, err = s.TryAcquireLeader(ctx, "scheduler", "instance-2", time.Second)
	require.NoError(t, err)
	require.False(t, won)
}

func TestPushReadyAndFetchRedisSide(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.pushReady(ctx, "default", "job-1"))
	require.NoError(t, s.pushReady(ctx, "default", "job-2"))

	// LPush + RPop preserves FIFO order across the pair; here we only
	// assert on the Redis-side list contents since Fetch's Postgres
	// claim step needs a live db.
	vals, err := mr.List("test:queue:default")
	require.NoError(t, err)
	require.Equal(t, []string{"job-2", "job-1"}, vals)
}
