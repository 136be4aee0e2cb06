package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/models"
)

type AttemptRepo struct {
	DB DBTX
}

const ensureLockout = `-- name: EnsureLockout
INSERT INTO login_lockouts (identity, origin, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (identity, origin) DO NOTHING
`

const getLockoutForUpdate = `-- name: GetLockoutForUpdate
SELECT identity, origin, failures, window_started_at, locked_until, lockouts, last_lockout_end, updated_at
FROM login_lockouts
WHERE identity = $1 AND origin = $2
FOR UPDATE
`

// GetForUpdate must be called inside transaction, otherwise the lock is released immediately
func (r *AttemptRepo) GetForUpdate(ctx context.Context, identity string, origin string, now time.Time) (models.LoginAttemptRecord, error) {
	_, err := r.DB.Exec(ctx, ensureLockout, identity, origin, now)
	if err != nil {
		return models.LoginAttemptRecord{}, fmt.Errorf("db error: %w", err)
	}

	rows, _ := r.DB.Query(ctx, getLockoutForUpdate, identity, origin)
	record, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.LoginAttemptRecord, error) {
		var rec models.LoginAttemptRecord
		var windowStarted *time.Time
		err := row.Scan(
			&rec.Identity, &rec.Origin, &rec.Failures, &windowStarted,
			&rec.LockedUntil, &rec.Lockouts, &rec.LastLockoutEnd, &rec.UpdatedAt,
		)
		if windowStarted != nil {
			rec.WindowStarted = *windowStarted
		}
		return rec, err
	})
	if err != nil {
		return record, fmt.Errorf("db error: %w", err)
	}

	return record, nil
}

const updateLockout = `-- name: UpdateLockout
UPDATE login_lockouts
SET failures = $3, window_started_at = $4, locked_until = $5, lockouts = $6, last_lockout_end = $7, updated_at = $8
WHERE identity = $1 AND origin = $2
`

func (r *AttemptRepo) Update(ctx context.Context, rec models.LoginAttemptRecord) error {
	var windowStarted *time.Time
	if !rec.WindowStarted.IsZero() {
		windowStarted = &rec.WindowStarted
	}

	_, err := r.DB.Exec(ctx, updateLockout,
		rec.Identity, rec.Origin, rec.Failures, windowStarted, rec.LockedUntil, rec.Lockouts, rec.LastLockoutEnd, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const resetLockout = `-- name: ResetLockout
DELETE FROM login_lockouts
WHERE identity = $1 AND origin = $2
`

func (r *AttemptRepo) Reset(ctx context.Context, identity string, origin string) error {
	_, err := r.DB.Exec(ctx, resetLockout, identity, origin)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const recordAttempt = `-- name: RecordAttempt
INSERT INTO login_attempts (identity, origin, outcome, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`

func (r *AttemptRepo) Record(ctx context.Context, a models.LoginAttempt) error {
	_, err := r.DB.Exec(ctx, recordAttempt, a.Identity, a.Origin, a.Outcome, a.Reason, a.OccurredAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Window restarts when the stored one began before $3
const hitOrigin = `-- name: HitOrigin
INSERT INTO origin_limits AS l (origin, window_started_at, hits)
VALUES ($1, $2, 1)
ON CONFLICT (origin) DO UPDATE
SET hits = CASE WHEN l.window_started_at < $3 THEN 1 ELSE l.hits + 1 END,
    window_started_at = CASE WHEN l.window_started_at < $3 THEN $2 ELSE l.window_started_at END
RETURNING hits, window_started_at
`

func (r *AttemptRepo) HitOrigin(ctx context.Context, origin string, now time.Time, windowStart time.Time) (int, time.Time, error) {
	var hits int
	var startedAt time.Time

	err := r.DB.QueryRow(ctx, hitOrigin, origin, now, windowStart).Scan(&hits, &startedAt)
	if err != nil {
		return 0, startedAt, fmt.Errorf("db error: %w", err)
	}
	return hits, startedAt, nil
}

const pruneLockouts = `-- name: PruneLockouts
DELETE FROM login_lockouts
WHERE updated_at < $1 AND (locked_until IS NULL OR locked_until < $1)
`

const pruneAttempts = `-- name: PruneAttempts
DELETE FROM login_attempts
WHERE occurred_at < $1
`

const pruneOriginLimits = `-- name: PruneOriginLimits
DELETE FROM origin_limits
WHERE window_started_at < $1
`

func (r *AttemptRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, query := range []string{pruneLockouts, pruneAttempts, pruneOriginLimits} {
		tag, err := r.DB.Exec(ctx, query, before)
		if err != nil {
			return total, fmt.Errorf("db error: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
