package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/priceleap/enq/internal/domain"
	"github.com/priceleap/enq/internal/errkind"
)

// UpsertSchedule inserts or replaces a recurring schedule, unique by
// name (spec §3: "Unique by name; updating replaces cleanly").
func (s *Store) UpsertSchedule(ctx context.Context, sc domain.Schedule) error {
	_, err := s.db.Exec(ctx, `
		insert into schedules (name, prefix, cron_expr, handler_ref, payload, next_fire_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (name, prefix) do update set
			cron_expr = excluded.cron_expr,
			handler_ref = excluded.handler_ref,
			payload = excluded.payload,
			next_fire_at = excluded.next_fire_at
	`, sc.Name, s.prefix, sc.CronExpr, sc.HandlerRef, sc.Payload, sc.NextFireAt)
	if err != nil {
		return errkind.Transientf(err, "upsert schedule %s", sc.Name)
	}
	return nil
}

// DueSchedules returns, in lexicographic name order (spec §4.3: "ties
// broken by lexicographic schedule name"), every schedule whose
// next_fire_at has passed.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.Query(ctx, `
		select name, cron_expr, handler_ref, payload, last_fire_at, next_fire_at
		from schedules
		where prefix = $1 and next_fire_at <= $2
		order by name asc
	`, s.prefix, now)
	if err != nil {
		return nil, errkind.Transientf(err, "list due schedules")
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		var sc domain.Schedule
		if err := rows.Scan(&sc.Name, &sc.CronExpr, &sc.HandlerRef, &sc.Payload, &sc.LastFireAt, &sc.NextFireAt); err != nil {
			return nil, errkind.Transientf(err, "scan due schedule")
		}
		sc.Prefix = s.prefix
		out = append(out, sc)
	}
	return out, nil
}

// MarkFired records that a schedule fired at firedAt and computes its
// next occurrence.
func (s *Store) MarkFired(ctx context.Context, name string, firedAt, nextFireAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		update schedules set last_fire_at = $1, next_fire_at = $2
		where name = $3 and prefix = $4
	`, firedAt, nextFireAt, name, s.prefix)
	if err != nil {
		return errkind.Transientf(err, "mark schedule %s fired", name)
	}
	return nil
}

// GetJob fetches a job record by id, used by the control-plane API and
// by tests asserting on final state.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `
		select id, queue, handler_ref, payload, state, created_at, enqueued_at,
			started_at, attempts, coalesce(parent_id, ''), coalesce(concurrency_key, ''),
			coalesce(owner_token, ''), lease_expires_at
		from jobs where id = $1 and prefix = $2
	`, id, s.prefix)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errkind.Transientf(err, "get job %s", id)
	}
	return j, nil
}
