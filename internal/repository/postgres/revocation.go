package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/models"
)

type RevocationRepo struct {
	DB DBTX
}

const addRevocation = `-- name: AddRevocation
INSERT INTO revocations (id, kind, reason, revoked_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET expires_at = GREATEST(revocations.expires_at, EXCLUDED.expires_at)
`

func (r *RevocationRepo) Add(ctx context.Context, e models.RevocationEntry) error {
	_, err := r.DB.Exec(ctx, addRevocation, e.ID, e.Kind, e.Reason, e.RevokedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revocationExists = `-- name: RevocationExists
SELECT EXISTS (SELECT 1 FROM revocations WHERE id = ANY($1))
`

func (r *RevocationRepo) Exists(ctx context.Context, ids ...string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}

	rows, _ := r.DB.Query(ctx, revocationExists, ids)
	exists, err := pgx.CollectOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

const pruneRevocations = `-- name: PruneRevocations
DELETE FROM revocations
WHERE expires_at <= $1
`

func (r *RevocationRepo) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, pruneRevocations, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
