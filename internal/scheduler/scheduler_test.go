package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/jobstore"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := jobstore.NewWithClients(nil, rdb, "test")
	return New(store, Config{}, zap.NewNop())
}

func TestHoldLeadership_SingleWinnerAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	// Two scheduler replicas sharing the same Redis backend contend for
	// the same leader lock.
	store := jobstore.NewWithClients(nil, rdb, "test")
	a := New(store, Config{}, zap.NewNop())
	b := New(store, Config{}, zap.NewNop())

	require.True(t, a.holdLeadership(context.Background(), false))
	require.False(t, b.holdLeadership(context.Background(), false), "second instance must not also win leadership")
}

func TestHoldLeadership_RenewsForCurrentLeader(t *testing.T) {
	sc := newTestScheduler(t)
	ctx := context.Background()

	require.True(t, sc.holdLeadership(ctx, false))
	require.True(t, sc.holdLeadership(ctx, true), "the current leader must be able to renew its own lease")
}

func TestParseCron_AcceptsStandardAndSecondsOptionalForms(t *testing.T) {
	_, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)

	_, err = ParseCron("30 */5 * * * *")
	require.NoError(t, err)

	_, err = ParseCron("not a cron expression")
	require.Error(t, err)
}

func TestParseCron_NextIsInTheFuture(t *testing.T) {
	sched, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.True(t, sched.Next(now).After(now))
}
