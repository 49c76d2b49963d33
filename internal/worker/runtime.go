// Package worker implements the Worker Runtime (spec §4.2): a pool of
// cooperative executors that repeatedly Fetch ready jobs, resolve and
// invoke their handler, and translate the result into Complete/Fail
// against the Job Store, honoring concurrency-key exclusions and
// heartbeating leases while a handler runs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
	"github.com/priceleap/enq/internal/jobstore"
	"github.com/priceleap/enq/internal/logging"
	"github.com/priceleap/enq/internal/metrics"
	"github.com/priceleap/enq/internal/retrypolicy"
)

// HandlerFunc runs one job's payload to completion. Handlers deserialize
// their own argument type from payload (spec §3: "handler_ref: fully
// -qualified handler identity plus a serialized argument payload").
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry maps a handler_ref to the function that runs it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(handlerRef string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerRef] = fn
}

func (r *Registry) Resolve(handlerRef string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[handlerRef]
	return fn, ok
}

// Config configures a Runtime.
type Config struct {
	Queues            []string
	ExecutorCount     int
	LeaseTTL          time.Duration
	FetchPollInterval time.Duration
	ShutdownGrace     time.Duration

	// ConcurrencyWindows supplies the exclusion-window TTL a handler
	// declared for its concurrency key (spec §4.2 step 1). A nil
	// registry, or a handler_ref absent from it, falls back to LeaseTTL.
	ConcurrencyWindows *ConcurrencyWindows
}

// ConcurrencyWindows maps a handler_ref to the TTL its concurrency-key
// lock should be acquired with. Each handler declares its own exclusion
// window as a package constant (e.g. emailpoll.ConcurrencyWindow);
// cmd/worker wires those constants in here at startup so the Runtime
// never has to import a handler package directly.
type ConcurrencyWindows struct {
	windows map[string]time.Duration
}

func NewConcurrencyWindows() *ConcurrencyWindows {
	return &ConcurrencyWindows{windows: make(map[string]time.Duration)}
}

func (c *ConcurrencyWindows) Set(handlerRef string, window time.Duration) {
	c.windows[handlerRef] = window
}

// For returns the declared window for handlerRef, or fallback if none
// was set (or c is nil).
func (c *ConcurrencyWindows) For(handlerRef string, fallback time.Duration) time.Duration {
	if c == nil {
		return fallback
	}
	if d, ok := c.windows[handlerRef]; ok && d > 0 {
		return d
	}
	return fallback
}

// Runtime is the Worker Runtime (C2).
type Runtime struct {
	store    *jobstore.Store
	registry *Registry
	retries  *retrypolicy.Registry
	cfg      Config
	logger   *zap.Logger

	workerID string
}

func New(store *jobstore.Store, registry *Registry, retries *retrypolicy.Registry, cfg Config, logger *zap.Logger) *Runtime {
	if cfg.ExecutorCount <= 0 {
		cfg.ExecutorCount = 1
	}
	if cfg.FetchPollInterval <= 0 {
		cfg.FetchPollInterval = 500 * time.Millisecond
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Runtime{
		store:    store,
		registry: registry,
		retries:  retries,
		cfg:      cfg,
		logger:   logger,
		workerID: uuid.NewString(),
	}
}

// Run starts cfg.ExecutorCount cooperative executors and blocks until
// ctx is canceled and every executor has returned. On cancellation,
// fetching stops immediately, but in-flight jobs keep running against a
// separate execution context that survives for cfg.ShutdownGrace past
// ctx's cancellation (spec §5: "in-flight leases are allowed to complete
// for a grace window"). Anything still running once that grace context
// is itself canceled has its lease left to lapse naturally, and the
// Job Store's lease-expiry reclaim reverts it to Enqueued without
// counting an attempt.
func (r *Runtime) Run(ctx context.Context) {
	execCtx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(r.cfg.ShutdownGrace)
		defer timer.Stop()
		<-timer.C
		cancelExec()
	}()

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.ExecutorCount; i++ {
		wg.Add(1)
		go func(executorID int) {
			defer wg.Done()
			r.executorLoop(ctx, execCtx, executorID)
		}(i)
	}
	wg.Wait()
}

func (r *Runtime) executorLoop(fetchCtx, execCtx context.Context, executorID int) {
	log := r.logger.With(zap.Int("executor", executorID), zap.String("worker_id", r.workerID))
	for {
		select {
		case <-fetchCtx.Done():
			return
		default:
		}

		job, err := r.store.Fetch(fetchCtx, r.cfg.Queues, r.workerID, r.cfg.LeaseTTL)
		if err != nil {
			log.Warn("fetch failed", zap.Error(err))
			sleepOrDone(fetchCtx, r.cfg.FetchPollInterval)
			continue
		}
		if job == nil {
			sleepOrDone(fetchCtx, r.cfg.FetchPollInterval)
			continue
		}

		r.processJob(execCtx, job, log)
	}
}

func (r *Runtime) processJob(ctx context.Context, job *domain.Job, log *zap.Logger) {
	jobLog := logging.ForJob(log, job.ID, job.HandlerRef, job.Queue)

	if job.ConcurrencyKey != "" {
		lockTTL := r.cfg.ConcurrencyWindows.For(job.HandlerRef, r.cfg.LeaseTTL)
		held, err := r.store.AcquireLock(ctx, job.ConcurrencyKey, job.ID, lockTTL)
		if err != nil {
			jobLog.Warn("acquire concurrency key failed", zap.Error(err))
			r.rescheduleShortBackoff(ctx, job, jobLog)
			return
		}
		if !held {
			jobLog.Info("concurrency key held elsewhere, requeuing with small backoff")
			r.rescheduleShortBackoff(ctx, job, jobLog)
			return
		}
		defer func() {
			if err := r.store.ReleaseLock(ctx, job.ConcurrencyKey, job.ID); err != nil {
				jobLog.Warn("release concurrency key failed", zap.Error(err))
			}
		}()
	}

	fn, ok := r.registry.Resolve(job.HandlerRef)
	if !ok {
		err := errkind.Validationf("no handler registered for %q", job.HandlerRef)
		r.fail(ctx, job, err, jobLog)
		return
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go r.heartbeat(hbCtx, job.ID, jobLog)

	deadline := time.Now().Add(r.cfg.LeaseTTL - r.cfg.LeaseTTL/10)
	handlerCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	metrics.JobsInFlight.WithLabelValues(job.HandlerRef).Inc()
	err := fn(handlerCtx, job.Payload)
	metrics.JobsInFlight.WithLabelValues(job.HandlerRef).Dec()
	cancelHB()

	if err == nil {
		if err := r.store.Complete(ctx, job.ID, r.workerID); err != nil {
			jobLog.Warn("complete failed", zap.Error(err))
		}
		metrics.JobsProcessedTotal.WithLabelValues(job.HandlerRef, "succeeded").Inc()
		return
	}
	metrics.JobsProcessedTotal.WithLabelValues(job.HandlerRef, "failed").Inc()
	r.fail(ctx, job, err, jobLog)
}

func (r *Runtime) fail(ctx context.Context, job *domain.Job, cause error, log *zap.Logger) {
	kind, ok := errkind.As(cause)
	retryable := !ok || kind.Retryable()

	if retryable {
		policy := r.retries.For(job.HandlerRef)
		nextAttempt := job.Attempts + 1
		if delay, ok := policy.DelayFor(nextAttempt); ok {
			retryAt := time.Now().Add(delay)
			if err := r.store.Fail(ctx, job.ID, r.workerID, cause, &retryAt); err != nil {
				log.Warn("scheduling retry failed", zap.Error(err))
			}
			log.Info("job failed, retry scheduled", zap.Error(cause), zap.Time("retry_at", retryAt))
			return
		}
	}

	if err := r.store.Fail(ctx, job.ID, r.workerID, cause, nil); err != nil {
		log.Warn("routing to failed queue failed", zap.Error(err))
	}
	log.Error("job failed permanently", zap.Error(cause))
}

// rescheduleShortBackoff implements the "small backoff, do not count as
// attempt" concurrency-key rule (spec §4.2 step 1) via Reschedule, with
// a little jitter so many blocked workers don't all wake in lockstep.
func (r *Runtime) rescheduleShortBackoff(ctx context.Context, job *domain.Job, log *zap.Logger) {
	backoff := time.Duration(2000+rand.Intn(3000)) * time.Millisecond
	if err := r.store.Reschedule(ctx, job.ID, r.workerID, time.Now().Add(backoff)); err != nil {
		log.Warn("reschedule after concurrency-key contention failed", zap.Error(err))
	}
}

func (r *Runtime) heartbeat(ctx context.Context, jobID string, log *zap.Logger) {
	interval := r.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(ctx, jobID, r.workerID, r.cfg.LeaseTTL); err != nil {
				log.Warn("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// EncodePayload and DecodePayload are the JSON (de)serialization helpers
// every handler uses to turn its typed argument into/from the opaque
// payload bytes the Job Store persists.
func EncodePayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("worker: encode payload: %w", err)
	}
	return b, nil
}

func DecodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("worker: decode payload: %w", err)
	}
	return nil
}
