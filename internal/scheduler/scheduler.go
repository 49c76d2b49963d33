// Package scheduler implements the Scheduler (spec §4.3): once per tick
// it promotes due Scheduled jobs to Enqueued and fires recurring
// schedules whose next_fire_at has passed. Leadership is a single
// logical clock — any instance may run it, contention resolved by a
// store-level lock — generalizing the teacher's
// `pg_try_advisory_lock(42)` idiom (cmd/scheduler/main.go) to a named
// Redis lock via jobstore.TryAcquireLeader.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/handlers/emailpoll"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/metrics"
)

const leaderLockName = "email-processing-scheduler"

// cronParser accepts the standard 5-field grammar plus an optional
// leading seconds field, per spec §4.3 ("5- or 6-field spec, seconds
// optional").
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a cron expression against the grammar spec §4.3
// requires and returns its parsed schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Config configures a Scheduler.
type Config struct {
	TickInterval    time.Duration
	LeaderLeaseTTL  time.Duration
	PromoteBatch    int
	ReclaimBatch    int
	ReconcileQueues []string
	ReconcileBatch  int

	// PurgeInterval is how often the leader sweeps terminal jobs older
	// than PurgeAfter (spec §3: "succeeded jobs may be purged after a
	// configurable TTL"). PurgeInterval <= 0 disables purging.
	PurgeInterval time.Duration
	PurgeAfter    time.Duration
}

// Scheduler runs the C3 tick loop.
type Scheduler struct {
	store      *jobstore.Store
	cfg        Config
	logger     *zap.Logger
	instanceID string
	lastPurge  time.Time
}

func New(store *jobstore.Store, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.LeaderLeaseTTL <= 0 {
		cfg.LeaderLeaseTTL = 5 * time.Second
	}
	return &Scheduler{store: store, cfg: cfg, logger: logger, instanceID: uuid.NewString()}
}

// EnsureSchedule idempotently registers a recurring schedule (spec §6:
// the default `email-processing` schedule bound to C4). Calling it again
// with a changed cron expression "replaces cleanly" per spec §3.
func (sc *Scheduler) EnsureSchedule(ctx context.Context, name, cronExpr, handlerRef string, payload []byte) error {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	return sc.store.UpsertSchedule(ctx, domain.Schedule{
		Name:       name,
		CronExpr:   cronExpr,
		HandlerRef: handlerRef,
		Payload:    payload,
		NextFireAt: schedule.Next(time.Now().UTC()),
	})
}

// Run ticks until ctx is canceled.
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.cfg.TickInterval)
	defer ticker.Stop()

	isLeader := false
	for {
		select {
		case <-ctx.Done():
			if isLeader {
				_ = sc.store.ReleaseLeader(ctx, leaderLockName, sc.instanceID)
			}
			return
		case <-ticker.C:
			isLeader = sc.holdLeadership(ctx, isLeader)
			if !isLeader {
				continue
			}
			sc.tick(ctx)
		}
	}
}

func (sc *Scheduler) holdLeadership(ctx context.Context, wasLeader bool) bool {
	if wasLeader {
		renewed, err := sc.store.RenewLeader(ctx, leaderLockName, sc.instanceID, sc.cfg.LeaderLeaseTTL)
		if err != nil {
			sc.logger.Warn("renew leader lease failed", zap.Error(err))
			return false
		}
		return renewed
	}
	won, err := sc.store.TryAcquireLeader(ctx, leaderLockName, sc.instanceID, sc.cfg.LeaderLeaseTTL)
	if err != nil {
		sc.logger.Warn("acquire leader lease failed", zap.Error(err))
		return false
	}
	if won {
		sc.logger.Info("became scheduler leader", zap.String("instance_id", sc.instanceID))
	}
	return won
}

func (sc *Scheduler) tick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()

	if n, err := sc.store.PromoteScheduled(ctx, sc.cfg.PromoteBatch); err != nil {
		sc.logger.Warn("promote scheduled failed", zap.Error(err))
	} else if n > 0 {
		sc.logger.Debug("promoted scheduled jobs", zap.Int("count", n))
	}

	if n, err := sc.store.ReclaimExpiredLeases(ctx, sc.cfg.ReclaimBatch); err != nil {
		sc.logger.Warn("reclaim expired leases failed", zap.Error(err))
	} else if n > 0 {
		sc.logger.Info("reclaimed jobs with expired leases", zap.Int("count", n))
	}

	for _, q := range sc.cfg.ReconcileQueues {
		if _, err := sc.store.ReconcileReady(ctx, q, sc.cfg.ReconcileBatch); err != nil {
			sc.logger.Warn("reconcile ready failed", zap.Error(err), zap.String("queue", q))
		}
	}

	if n, err := sc.store.ReconcileOrphanedContinuations(ctx, sc.cfg.ReconcileBatch); err != nil {
		sc.logger.Warn("reconcile orphaned continuations failed", zap.Error(err))
	} else if n > 0 {
		sc.logger.Info("promoted orphaned continuation jobs", zap.Int("count", n))
	}

	sc.fireDueSchedules(ctx)
	sc.purgeIfDue(ctx)
}

// purgeIfDue reaps terminal jobs past their retention window (spec §3,
// §4.1's Purge contract) at most once per PurgeInterval, since a sweep
// that runs on every tick would be wasteful for a TTL measured in days.
func (sc *Scheduler) purgeIfDue(ctx context.Context) {
	if sc.cfg.PurgeInterval <= 0 {
		return
	}
	now := time.Now()
	if !sc.lastPurge.IsZero() && now.Sub(sc.lastPurge) < sc.cfg.PurgeInterval {
		return
	}
	sc.lastPurge = now

	n, err := sc.store.Purge(ctx, sc.cfg.PurgeAfter)
	if err != nil {
		sc.logger.Warn("purge terminal jobs failed", zap.Error(err))
		return
	}
	if n > 0 {
		sc.logger.Info("purged terminal jobs", zap.Int64("count", n))
	}
}

// fireDueSchedules enqueues a fresh job for every recurring schedule
// whose next_fire_at has passed, in lexicographic name order (spec
// §4.3's tie-break), and advances next_fire_at to the schedule's next
// match.
func (sc *Scheduler) fireDueSchedules(ctx context.Context) {
	now := time.Now().UTC()
	due, err := sc.store.DueSchedules(ctx, now)
	if err != nil {
		sc.logger.Warn("list due schedules failed", zap.Error(err))
		return
	}

	for _, s := range due {
		cronSchedule, err := ParseCron(s.CronExpr)
		if err != nil {
			sc.logger.Error("schedule has unparseable cron expression", zap.String("name", s.Name), zap.Error(err))
			continue
		}

		job := domain.Job{
			Queue:      "default",
			HandlerRef: s.HandlerRef,
			Payload:    s.Payload,
		}
		// email-poll's exclusion key (spec §4.4) has to be attached here
		// too, not just at its handler's own enqueue sites, since the
		// recurring fire path never goes through emailpoll.New's caller.
		if s.HandlerRef == emailpoll.HandlerRef {
			job.ConcurrencyKey = emailpoll.ConcurrencyKey
		}

		if _, err := sc.store.Enqueue(ctx, job); err != nil {
			sc.logger.Warn("enqueue recurring job failed", zap.String("name", s.Name), zap.Error(err))
			continue
		}

		next := cronSchedule.Next(now)
		if err := sc.store.MarkFired(ctx, s.Name, now, next); err != nil {
			sc.logger.Warn("mark schedule fired failed", zap.String("name", s.Name), zap.Error(err))
		}
		metrics.SchedulesFired.WithLabelValues(s.Name).Inc()
	}
}
