// Package ledger implements the claim ledger: time-bounded exclusive
// leases on ready tasks, one lease per (task, worker-class) pair, backed
// by Postgres. Claim, Complete, and Release each execute as a single
// atomic statement so the at-most-one-active-lease guarantee rests on
// the store's row locking alone; no application-level mutex is involved.
//
// A worker that crashes mid-task simply lets its lease age out: once
// leased_at falls more than the lease duration in the past, the task is
// reclaimable by the next Claim call.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-claimqueue/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Ledger struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Open connects to the store and pings it to fail fast on a bad URL.
func Open(ctx context.Context, databaseURL string) (*Ledger, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Ledger{pool: pool}, nil
}

func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Pool exposes the underlying pool, e.g. to share it with a registry view.
func (l *Ledger) Pool() *pgxpool.Pool {
	return l.pool
}

// The candidate is the lowest-id ready task at or above the watermark
// whose lease row for this worker-class is absent, unclaimed, or expired.
// FOR UPDATE locks the task row for the duration of the statement, so
// racing claimers skip it and take the next candidate instead of fighting
// over the upsert. The DO UPDATE clause re-checks reclaimability: if a
// concurrent claim moved the row to leased with a fresh leased_at first,
// no row is returned and the claim comes back empty.
const claimSQL = `
WITH candidate AS (
	SELECT t.id
	FROM tasks t
	LEFT JOIN leases l
		ON l.task_id = t.id AND l.worker_class = $1
	WHERE t.id >= $2
	  AND t.ready
	  AND (
		l.task_id IS NULL
		OR l.status = 'unclaimed'
		OR (l.status = 'leased' AND l.leased_at < now() - make_interval(secs => $3))
	  )
	ORDER BY t.id
	LIMIT 1
	FOR UPDATE OF t SKIP LOCKED
)
INSERT INTO leases (task_id, worker_class, status, created_at, updated_at, leased_at)
SELECT id, $1, 'leased', now(), now(), now()
FROM candidate
ON CONFLICT (task_id, worker_class) DO UPDATE
	SET status = 'leased',
	    updated_at = now(),
	    leased_at = now()
	WHERE leases.status = 'unclaimed'
	   OR (leases.status = 'leased' AND leases.leased_at < now() - make_interval(secs => $3))
RETURNING task_id, status, created_at, updated_at, leased_at
`

// Claim leases one eligible task for workerClass and returns the lease
// row. The second return value is false when no task is eligible, which
// is a normal outcome, not an error. Candidates are taken in ascending
// task-id order so the oldest pending task is served first.
//
// The returned LeasedAt is the caller's proof of ownership: Complete and
// Release require it back and reject the call if the row has moved on.
func (l *Ledger) Claim(ctx context.Context, workerClass string, leaseDuration time.Duration, watermark int64) (model.Lease, bool, error) {
	lease := model.Lease{WorkerClass: workerClass}
	err := l.pool.QueryRow(ctx, claimSQL, workerClass, watermark, leaseDuration.Seconds()).Scan(
		&lease.TaskID, &lease.Status, &lease.CreatedAt, &lease.UpdatedAt, &lease.LeasedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Lease{}, false, nil
	}
	if err != nil {
		return model.Lease{}, false, mapPgErr(err)
	}
	return lease, true, nil
}

// Complete marks the lease done. leasedAt must be the value returned by
// the Claim that granted the lease; if the row no longer carries it the
// lease expired and was reclaimed, and Complete returns ErrLeaseLost
// rather than clobbering the reclaimer's progress. Completing an
// already-done lease under the same leasedAt is a no-op.
func (l *Ledger) Complete(ctx context.Context, taskID int64, workerClass string, leasedAt time.Time) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE leases
		SET status = 'done', updated_at = now()
		WHERE task_id = $1 AND worker_class = $2
		  AND leased_at = $3
		  AND status IN ('leased', 'done')`,
		taskID, workerClass, leasedAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete task %d for %q: %w", taskID, workerClass, ErrLeaseLost)
	}
	return nil
}

// Release puts the lease back to unclaimed immediately, making the task
// claimable on the very next Claim call instead of waiting for expiry.
// Same ownership guard as Complete; releasing an already-released lease
// under the same leasedAt is a no-op so callers can retry safely.
func (l *Ledger) Release(ctx context.Context, taskID int64, workerClass string, leasedAt time.Time) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE leases
		SET status = 'unclaimed', updated_at = now()
		WHERE task_id = $1 AND worker_class = $2
		  AND leased_at = $3
		  AND status IN ('leased', 'unclaimed')`,
		taskID, workerClass, leasedAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release task %d for %q: %w", taskID, workerClass, ErrLeaseLost)
	}
	return nil
}

// SweepExpired flips every expired lease for workerClass back to
// unclaimed and reports how many rows moved. Claim already reclaims
// expired leases inline, so this is housekeeping: it makes crashed
// workers' tasks visible as unclaimed without waiting for the next claim.
func (l *Ledger) SweepExpired(ctx context.Context, workerClass string, leaseDuration time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		UPDATE leases
		SET status = 'unclaimed', updated_at = now()
		WHERE worker_class = $1
		  AND status = 'leased'
		  AND leased_at < now() - make_interval(secs => $2)`,
		workerClass, leaseDuration.Seconds())
	if err != nil {
		return 0, mapPgErr(err)
	}
	return tag.RowsAffected(), nil
}

// Get reads the current lease row for a (task, worker-class) pair.
func (l *Ledger) Get(ctx context.Context, taskID int64, workerClass string) (model.Lease, bool, error) {
	lease := model.Lease{TaskID: taskID, WorkerClass: workerClass}
	err := l.pool.QueryRow(ctx, `
		SELECT status, created_at, updated_at, leased_at
		FROM leases
		WHERE task_id = $1 AND worker_class = $2`,
		taskID, workerClass).Scan(
		&lease.Status, &lease.CreatedAt, &lease.UpdatedAt, &lease.LeasedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Lease{}, false, nil
	}
	if err != nil {
		return model.Lease{}, false, mapPgErr(err)
	}
	return lease, true, nil
}
