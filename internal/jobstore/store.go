// Package jobstore implements the Job Store (spec §4.1): a durable queue
// and state machine for jobs, continuations, retries, and recurring
// schedules, split across two backends the way the teacher
// (SirClappington-enq) splits them — Postgres via pgx/v5 holds the
// durable, queryable job record (source of truth for the I1-I5
// invariants, enforced with compare-and-set UPDATE statements), and
// Redis via go-redis/v9 holds the ready-queue list and the short-lived
// locks used for concurrency keys and scheduler leader election. This
// generalizes internal/storage/store.go (Postgres inserts) and
// internal/queue/redisq.go (Redis ZSET/LIST queue) from a single hardcoded
// tenant string to a configurable deployment prefix, and adds the lease,
// continuation, and retry semantics the teacher's MVP never implemented.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
)

// ErrNotFound is returned when an operation targets a job id that does
// not exist (never created, or already purged). A job that exists but is
// no longer owned by the calling worker yields ErrLeaseLost instead.
var ErrNotFound = errors.New("jobstore: not found")

// ErrLeaseLost is returned by Complete/Fail/Heartbeat when owner_token no
// longer matches the record — another worker reclaimed the lease after
// this one's expired (spec §7, "Lease loss").
var ErrLeaseLost = errors.New("jobstore: lease lost")

// Querier is the subset of pgxpool.Pool the store needs; it exists so
// tests can substitute a fake without dragging in a live Postgres.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the Job Store client. Prefix namespaces every Postgres row
// and Redis key so multiple deployments can share one backend.
type Store struct {
	db     Querier
	rdb    redis.Cmdable
	prefix string
}

func New(db *pgxpool.Pool, rdb *redis.Client, prefix string) *Store {
	return &Store{db: db, rdb: rdb, prefix: prefix}
}

// NewWithClients builds a Store from already-abstracted clients, used by
// tests that fake the Postgres side but exercise a real (miniredis)
// Redis side.
func NewWithClients(db Querier, rdb redis.Cmdable, prefix string) *Store {
	return &Store{db: db, rdb: rdb, prefix: prefix}
}

// Enqueue inserts a job with state Enqueued, pushes it onto its queue's
// ready list, and returns its id.
func (s *Store) Enqueue(ctx context.Context, j domain.Job) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		insert into jobs (id, prefix, queue, handler_ref, payload, state,
			created_at, enqueued_at, attempts, concurrency_key, parent_id)
		values ($1,$2,$3,$4,$5,'enqueued',$6,$6,0,$7,nullif($8,''))
	`, id, s.prefix, j.Queue, j.HandlerRef, j.Payload, now, nullIfEmpty(j.ConcurrencyKey), j.ParentID)
	if err != nil {
		return "", errkind.Transientf(err, "insert enqueued job")
	}
	if err := s.pushReady(ctx, j.Queue, id); err != nil {
		return id, errkind.Transientf(err, "push ready job %s", id)
	}
	return id, nil
}

// Schedule inserts a job with state Scheduled, due at `at`. The
// Scheduler's tick promotes it to Enqueued once at <= now.
func (s *Store) Schedule(ctx context.Context, j domain.Job, at time.Time) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		insert into jobs (id, prefix, queue, handler_ref, payload, state,
			created_at, attempts, next_attempt_at, concurrency_key, parent_id)
		values ($1,$2,$3,$4,$5,'scheduled',$6,0,$7,$8,nullif($9,''))
	`, id, s.prefix, j.Queue, j.HandlerRef, j.Payload, now, at, nullIfEmpty(j.ConcurrencyKey), j.ParentID)
	if err != nil {
		return "", errkind.Transientf(err, "insert scheduled job")
	}
	return id, nil
}

// Continue inserts a job gated on parentID reaching Succeeded (spec's
// linear continuation chain, §9). If the parent has already succeeded by
// the time this call lands (a race the CSV split handler cannot avoid
// when building a chain job-by-job), it is enqueued immediately instead
// of stalling forever in AwaitingContinuation. One window remains: if the
// parent's Complete commits after the parent-state lookup below but
// before this insert commits, the child is still written as
// AwaitingContinuation after Complete's promotion already ran;
// ReconcileOrphanedContinuations promotes such children later.
func (s *Store) Continue(ctx context.Context, parentID string, j domain.Job) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", errkind.Transientf(err, "begin continue tx")
	}
	defer tx.Rollback(ctx)

	var parentState string
	if err := tx.QueryRow(ctx, `select state from jobs where id = $1 and prefix = $2`, parentID, s.prefix).Scan(&parentState); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("jobstore: parent %s: %w", parentID, ErrNotFound)
		}
		return "", errkind.Transientf(err, "lookup parent %s", parentID)
	}

	state := "awaiting_continuation"
	if domain.State(parentState) == domain.Succeeded {
		state = "enqueued"
	}

	if _, err := tx.Exec(ctx, `
		insert into jobs (id, prefix, queue, handler_ref, payload, state,
			created_at, enqueued_at, attempts, concurrency_key, parent_id)
		values ($1,$2,$3,$4,$5,$6,$7,case when $6='enqueued' then $7 else null end,0,$8,$9)
	`, id, s.prefix, j.Queue, j.HandlerRef, j.Payload, state, now, nullIfEmpty(j.ConcurrencyKey), parentID); err != nil {
		return "", errkind.Transientf(err, "insert continuation job")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errkind.Transientf(err, "commit continue tx")
	}

	if state == "enqueued" {
		if err := s.pushReady(ctx, j.Queue, id); err != nil {
			return id, errkind.Transientf(err, "push ready continuation %s", id)
		}
	}
	return id, nil
}

// Fetch atomically pops one ready job id from the given queues (checked
// in order) and claims it: owner_token = workerID, state = Processing,
// lease_expires_at = now + leaseTTL. Returns nil, nil if none are ready.
func (s *Store) Fetch(ctx context.Context, queues []string, workerID string, leaseTTL time.Duration) (*domain.Job, error) {
	for _, q := range queues {
		// LPush (pushReady) + RPop keeps the ready list FIFO, matching
		// the teacher's LPush/BRPop pairing (internal/queue/redisq.go).
		id, err := s.rdb.RPop(ctx, readyKey(s.prefix, q)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errkind.Transientf(err, "pop ready queue %s", q)
		}

		now := time.Now().UTC()
		leaseExp := now.Add(leaseTTL)
		row := s.db.QueryRow(ctx, `
			update jobs set state = 'processing', owner_token = $1,
				started_at = $2, lease_expires_at = $3
			where id = $4 and prefix = $5 and state = 'enqueued'
			returning id, queue, handler_ref, payload, state, created_at,
				enqueued_at, started_at, attempts, coalesce(parent_id, ''),
				coalesce(concurrency_key, ''), owner_token, lease_expires_at
		`, workerID, now, leaseExp, id, s.prefix)

		j, err := scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race (job already claimed, purged, or the ready
			// pointer was stale); try the next queue/pop rather than
			// blocking the caller.
			continue
		}
		if err != nil {
			return nil, errkind.Transientf(err, "claim job %s", id)
		}
		return j, nil
	}
	return nil, nil
}

// Complete transitions a Processing job to Succeeded and, in the same
// transaction, promotes any AwaitingContinuation children of it to
// Enqueued (spec §4.1: "on parent Succeeded, atomically transitions to
// Enqueued"). Guarded by owner_token.
func (s *Store) Complete(ctx context.Context, id, workerID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errkind.Transientf(err, "begin complete tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		update jobs set state = 'succeeded', finished_at = $1, owner_token = null,
			lease_expires_at = null
		where id = $2 and prefix = $3 and state = 'processing' and owner_token = $4
	`, now, id, s.prefix, workerID)
	if err != nil {
		return errkind.Transientf(err, "complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLossOrNotFound(ctx, id)
	}

	childRows, err := tx.Query(ctx, `
		update jobs set state = 'enqueued', enqueued_at = $1
		where parent_id = $2 and prefix = $3 and state = 'awaiting_continuation'
		returning id, queue
	`, now, id, s.prefix)
	if err != nil {
		return errkind.Transientf(err, "promote continuations of %s", id)
	}
	type child struct{ id, queue string }
	var children []child
	for childRows.Next() {
		var c child
		if err := childRows.Scan(&c.id, &c.queue); err != nil {
			childRows.Close()
			return errkind.Transientf(err, "scan continuation child")
		}
		children = append(children, c)
	}
	childRows.Close()

	if err := tx.Commit(ctx); err != nil {
		return errkind.Transientf(err, "commit complete tx")
	}

	for _, c := range children {
		if err := s.pushReady(ctx, c.queue, c.id); err != nil {
			// The state change is already committed, so the error is
			// returned only to report the failed push; the periodic
			// ReconcileReady sweep (run from the Scheduler tick) later
			// pushes enqueued-but-unqueued jobs.
			return errkind.Transientf(err, "push continuation child %s", c.id)
		}
	}
	return nil
}

// Fail transitions a Processing job either back to Scheduled (retryAt
// non-nil) for another attempt, or to Failed on the `failed` queue once
// retries are exhausted. Guarded by owner_token.
func (s *Store) Fail(ctx context.Context, id, workerID string, cause error, retryAt *time.Time) error {
	now := time.Now().UTC()
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	var tag pgconn.CommandTag
	var err error
	if retryAt != nil {
		tag, err = s.db.Exec(ctx, `
			update jobs set state = 'scheduled', attempts = attempts + 1,
				next_attempt_at = $1, last_error = $2, owner_token = null,
				lease_expires_at = null, finished_at = null
			where id = $3 and prefix = $4 and state = 'processing' and owner_token = $5
		`, *retryAt, errMsg, id, s.prefix, workerID)
	} else {
		tag, err = s.db.Exec(ctx, `
			update jobs set state = 'failed', queue = 'failed', attempts = attempts + 1,
				finished_at = $1, last_error = $2, owner_token = null, lease_expires_at = null
			where id = $3 and prefix = $4 and state = 'processing' and owner_token = $5
		`, now, errMsg, id, s.prefix, workerID)
	}
	if err != nil {
		return errkind.Transientf(err, "fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLossOrNotFound(ctx, id)
	}
	return nil
}

// Reschedule moves a Processing job back to Scheduled without counting
// an attempt, due again at `at`. Used by the worker runtime's
// concurrency-key backoff (spec §4.2 step 1: "If held, return the job to
// Enqueued with small backoff; do not count as attempt") — reusing the
// Scheduled/PromoteScheduled machinery instead of a bespoke delay queue.
func (s *Store) Reschedule(ctx context.Context, id, workerID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		update jobs set state = 'scheduled', next_attempt_at = $1,
			owner_token = null, lease_expires_at = null, started_at = null
		where id = $2 and prefix = $3 and state = 'processing' and owner_token = $4
	`, at, id, s.prefix, workerID)
	if err != nil {
		return errkind.Transientf(err, "reschedule job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLossOrNotFound(ctx, id)
	}
	return nil
}

// Heartbeat extends a held lease's expiry by leaseTTL. Guarded by
// owner_token so a worker that already lost its lease cannot resurrect it.
func (s *Store) Heartbeat(ctx context.Context, id, workerID string, leaseTTL time.Duration) error {
	tag, err := s.db.Exec(ctx, `
		update jobs set lease_expires_at = $1
		where id = $2 and prefix = $3 and state = 'processing' and owner_token = $4
	`, time.Now().UTC().Add(leaseTTL), id, s.prefix, workerID)
	if err != nil {
		return errkind.Transientf(err, "heartbeat job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLossOrNotFound(ctx, id)
	}
	return nil
}

// Purge removes terminal (Succeeded, Failed) jobs older than olderThan.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `
		delete from jobs
		where prefix = $1 and state in ('succeeded', 'failed') and finished_at < $2
	`, s.prefix, cutoff)
	if err != nil {
		return 0, errkind.Transientf(err, "purge jobs older than %s", olderThan)
	}
	return tag.RowsAffected(), nil
}

// PromoteScheduled moves Scheduled jobs whose next_attempt_at has passed
// into Enqueued and pushes them onto their ready queues. Called from the
// Scheduler tick (spec §4.3).
func (s *Store) PromoteScheduled(ctx context.Context, batch int) (int, error) {
	now := time.Now().UTC()
	var limit any
	if batch > 0 {
		limit = batch
	}
	rows, err := s.db.Query(ctx, `
		update jobs set state = 'enqueued', enqueued_at = $1
		where prefix = $2 and state = 'scheduled' and next_attempt_at <= $1 and id in (
			select id from jobs
			where prefix = $2 and state = 'scheduled' and next_attempt_at <= $1
			order by next_attempt_at asc limit $3
		)
		returning id, queue
	`, now, s.prefix, limit)
	if err != nil {
		return 0, errkind.Transientf(err, "promote scheduled")
	}
	defer rows.Close()

	type due struct{ id, queue string }
	var jobs []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.queue); err != nil {
			return 0, errkind.Transientf(err, "scan promoted job")
		}
		jobs = append(jobs, d)
	}
	for _, d := range jobs {
		if err := s.pushReady(ctx, d.queue, d.id); err != nil {
			return len(jobs), errkind.Transientf(err, "push promoted job %s", d.id)
		}
	}
	return len(jobs), nil
}

// ReclaimExpiredLeases reverts Processing jobs whose lease has expired
// back to Enqueued without incrementing attempts (spec §4.1: "the
// attempt is not counted as a user failure") and re-pushes them onto
// their ready queue.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, batch int) (int, error) {
	now := time.Now().UTC()
	var limit any
	if batch > 0 {
		limit = batch
	}
	rows, err := s.db.Query(ctx, `
		update jobs set state = 'enqueued', owner_token = null, lease_expires_at = null,
			started_at = null, enqueued_at = $1
		where prefix = $2 and state = 'processing' and lease_expires_at < $1 and id in (
			select id from jobs
			where prefix = $2 and state = 'processing' and lease_expires_at < $1
			order by lease_expires_at asc limit $3
		)
		returning id, queue
	`, now, s.prefix, limit)
	if err != nil {
		return 0, errkind.Transientf(err, "reclaim expired leases")
	}
	defer rows.Close()

	type due struct{ id, queue string }
	var jobs []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.queue); err != nil {
			return 0, errkind.Transientf(err, "scan reclaimed job")
		}
		jobs = append(jobs, d)
	}
	for _, d := range jobs {
		if err := s.pushReady(ctx, d.queue, d.id); err != nil {
			return len(jobs), errkind.Transientf(err, "push reclaimed job %s", d.id)
		}
	}
	return len(jobs), nil
}

// ReconcileReady re-pushes up to batch of the oldest jobs in Enqueued
// state on queue, without checking whether their ids are already in the
// ready list — a safety net for the case where a push after a Postgres
// commit (Continue's promotion, or a crash between the two writes) never
// landed. Pushing an id that is already in the list, or that has since
// moved on, is harmless: Fetch's
// `state = 'enqueued'` guard makes duplicate pointers self-correcting.
func (s *Store) ReconcileReady(ctx context.Context, queue string, batch int) (int, error) {
	rows, err := s.db.Query(ctx, `
		select id from jobs
		where prefix = $1 and queue = $2 and state = 'enqueued'
		order by created_at asc limit $3
	`, s.prefix, queue, batch)
	if err != nil {
		return 0, errkind.Transientf(err, "reconcile ready %s", queue)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, errkind.Transientf(err, "scan reconcile candidate")
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := s.pushReady(ctx, queue, id); err != nil {
			return len(ids), errkind.Transientf(err, "push reconciled job %s", id)
		}
	}
	return len(ids), nil
}

// ReconcileOrphanedContinuations promotes any AwaitingContinuation job
// whose parent has already reached Succeeded, and re-pushes it onto its
// ready queue. This closes the race Continue's doc comment describes: if
// the parent's Complete commits between Continue's parent-state lookup
// and Continue's own insert commit, the child lands as
// AwaitingContinuation after the one promotion attempt Complete makes
// has already run, and nothing else would ever promote it. Called from
// the Scheduler tick alongside PromoteScheduled/ReclaimExpiredLeases.
func (s *Store) ReconcileOrphanedContinuations(ctx context.Context, batch int) (int, error) {
	now := time.Now().UTC()
	var limit any
	if batch > 0 {
		limit = batch
	}
	rows, err := s.db.Query(ctx, `
		update jobs set state = 'enqueued', enqueued_at = $1
		where prefix = $2 and state = 'awaiting_continuation' and parent_id in (
			select id from jobs where prefix = $2 and state = 'succeeded'
		)
		and id in (
			select id from jobs
			where prefix = $2 and state = 'awaiting_continuation'
			order by created_at asc limit $3
		)
		returning id, queue
	`, now, s.prefix, limit)
	if err != nil {
		return 0, errkind.Transientf(err, "reconcile orphaned continuations")
	}
	defer rows.Close()

	type due struct{ id, queue string }
	var jobs []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.queue); err != nil {
			return 0, errkind.Transientf(err, "scan orphaned continuation")
		}
		jobs = append(jobs, d)
	}
	for _, d := range jobs {
		if err := s.pushReady(ctx, d.queue, d.id); err != nil {
			return len(jobs), errkind.Transientf(err, "push orphaned continuation %s", d.id)
		}
	}
	return len(jobs), nil
}

func (s *Store) pushReady(ctx context.Context, queue, id string) error {
	return s.rdb.LPush(ctx, readyKey(s.prefix, queue), id).Err()
}

// leaseLossOrNotFound distinguishes "the job doesn't exist" from "the
// job exists but this caller no longer owns its lease" for the
// zero-rows-affected case shared by Complete/Fail/Heartbeat.
func (s *Store) leaseLossOrNotFound(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRow(ctx, `select exists(select 1 from jobs where id = $1 and prefix = $2)`, id, s.prefix).Scan(&exists)
	if err != nil {
		return errkind.Transientf(err, "check job %s existence", id)
	}
	if !exists {
		return fmt.Errorf("jobstore: job %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("jobstore: job %s: %w", id, ErrLeaseLost)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	if err := row.Scan(
		&j.ID, &j.Queue, &j.HandlerRef, &j.Payload, &j.State, &j.CreatedAt,
		&j.EnqueuedAt, &j.StartedAt, &j.Attempts, &j.ParentID,
		&j.ConcurrencyKey, &j.OwnerToken, &j.LeaseExpiresAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
