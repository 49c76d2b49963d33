// Command scheduler runs the Scheduler (C3): cron-driven promotion of
// due Scheduled jobs and recurring schedule firing, gated by leadership
// so multiple replicas can run without double-firing.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/config"
	"github.com/priceleap/enq/internal/handlers/emailpoll"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/logging"
	"github.com/priceleap/enq/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("scheduler: load config: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("scheduler: init logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := jobstore.New(db, rdb, cfg.StorePrefix)

	sc := scheduler.New(store, scheduler.Config{
		TickInterval:    time.Second,
		LeaderLeaseTTL:  5 * time.Second,
		PromoteBatch:    500,
		ReclaimBatch:    500,
		ReconcileQueues: []string{"default", "failed"},
		ReconcileBatch:  500,
		PurgeInterval:   time.Hour,
		PurgeAfter:      time.Duration(cfg.Jobs.PurgeAfterSeconds) * time.Second,
	}, logger)

	// The default recurring schedule (spec §6): fire C4 on the
	// configured cron expression.
	if err := sc.EnsureSchedule(ctx, "email-processing", cfg.EmailPolling.CronExpression, emailpoll.HandlerRef, nil); err != nil {
		logger.Fatal("register email-processing schedule", zap.Error(err))
	}

	logger.Info("scheduler starting")
	sc.Run(ctx)
	logger.Info("scheduler stopped")
}
