// Command worker runs the Worker Runtime (C2): a pool of executors that
// fetch ready jobs from the Job Store and run the C4/C5/C6 handlers
// bound at startup.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/adapters/apiclient"
	"github.com/priceleap/enq/internal/adapters/email"
	"github.com/priceleap/enq/internal/adapters/objectstore"
	"github.com/priceleap/enq/internal/config"
	"github.com/priceleap/enq/internal/handlers/batchdispatch"
	"github.com/priceleap/enq/internal/handlers/csvsplit"
	"github.com/priceleap/enq/internal/handlers/emailpoll"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/logging"
	"github.com/priceleap/enq/internal/retrypolicy"
	"github.com/priceleap/enq/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("worker: load config: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("worker: init logging: %v", err)
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

	transport := buildEmailTransport(cfg, logger)
	objects := buildObjectStore(cfg)
	apiClient := apiclient.New(apiclient.Config{
		BaseURL:     cfg.API.BaseURL,
		Endpoint:    cfg.API.Endpoint,
		APIKey:      cfg.API.APIKey,
		BearerToken: cfg.API.BearerToken,
		Timeout:     time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	})

	registry := worker.NewRegistry()
	pollHandler := emailpoll.New(transport, objects, store, emailpoll.Config{Queue: "default"}, logger)
	splitHandler := csvsplit.New(objects, store, csvsplit.Config{Queue: "default", BatchSize: cfg.Jobs.BatchSize}, logger)
	dispatchHandler := batchdispatch.New(apiClient, transport, logger)

	registry.Register(emailpoll.HandlerRef, pollHandler.Run)
	registry.Register(csvsplit.HandlerRef, splitHandler.Run)
	registry.Register(batchdispatch.HandlerRef, dispatchHandler.Run)

	retries := retrypolicy.NewRegistry(retrypolicy.FromSeconds(cfg.Jobs.RetryDelaysSeconds))

	concurrencyWindows := worker.NewConcurrencyWindows()
	concurrencyWindows.Set(emailpoll.HandlerRef, emailpoll.ConcurrencyWindow)
	concurrencyWindows.Set(csvsplit.HandlerRef, csvsplit.ConcurrencyWindow)
	concurrencyWindows.Set(batchdispatch.HandlerRef, batchdispatch.ConcurrencyWindow)

	workerCount := cfg.Jobs.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	rt := worker.New(store, registry, retries, worker.Config{
		Queues:             []string{"default"},
		ExecutorCount:      workerCount,
		LeaseTTL:           time.Duration(cfg.Jobs.LeaseTTLSeconds) * time.Second,
		FetchPollInterval:  time.Duration(cfg.Jobs.FetchPollIntervalMS) * time.Millisecond,
		ShutdownGrace:      time.Duration(cfg.Jobs.ShutdownGraceSeconds) * time.Second,
		ConcurrencyWindows: concurrencyWindows,
	}, logger)

	logger.Info("worker starting", zap.Int("executors", workerCount))
	rt.Run(ctx)
	logger.Info("worker stopped")
}

func buildEmailTransport(cfg config.Config, logger *zap.Logger) email.Transport {
	switch cfg.Email.Provider {
	case "pop3":
		return email.NewPOP3(email.POP3Config{
			Host:     cfg.Email.POP3Host,
			Port:     cfg.Email.POP3Port,
			User:     cfg.Email.POP3User,
			Password: cfg.Email.POP3Password,
			TLS:      cfg.Email.POP3TLS,
		}, func(format string, args ...any) { logger.Sugar().Warnf(format, args...) })
	case "imap":
		return email.NewIMAP(email.IMAPConfig{
			Host:         cfg.Email.IMAPHost,
			Port:         cfg.Email.IMAPPort,
			User:         cfg.Email.IMAPUser,
			Password:     cfg.Email.IMAPPassword,
			TLS:          cfg.Email.IMAPTLS,
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			SMTPFrom:     cfg.Email.SMTPFrom,
		})
	default:
		return email.NewMock()
	}
}

func buildObjectStore(cfg config.Config) objectstore.Store {
	layout := objectstore.KeyLayout{TestMode: cfg.ObjectStore.TestMode, TestID: cfg.ObjectStore.TestID}
	if cfg.ObjectStore.Provider == "s3" {
		s3, err := objectstore.NewS3(objectstore.S3Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			SSL:       cfg.ObjectStore.SSL,
		}, layout)
		if err != nil {
			log.Fatalf("worker: init s3 object store: %v", err)
		}
		return s3
	}
	return objectstore.NewMock(layout)
}
