package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/models"
)

type PasswordHistoryRepo struct {
	DB DBTX
}

const appendHistory = `-- name: AppendPasswordHistory
INSERT INTO password_history (id, user_id, password_hash, changed_at)
VALUES ($1, $2, $3, $4)
`

func (r *PasswordHistoryRepo) Append(ctx context.Context, entry models.PasswordHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := r.DB.Exec(ctx, appendHistory, entry.ID, entry.UserID, entry.HashedPassword, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const lastHashes = `-- name: LastPasswordHashes
SELECT password_hash
FROM password_history
WHERE user_id = $1
ORDER BY changed_at DESC, seq DESC
LIMIT $2
`

func (r *PasswordHistoryRepo) LastHashes(ctx context.Context, userID uuid.UUID, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, _ := r.DB.Query(ctx, lastHashes, userID, n)
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return hashes, nil
}

const trimHistory = `-- name: TrimPasswordHistory
DELETE FROM password_history
WHERE user_id = $1 AND id NOT IN (
    SELECT id FROM password_history
    WHERE user_id = $1
    ORDER BY changed_at DESC, seq DESC
    LIMIT $2
)
`

func (r *PasswordHistoryRepo) Trim(ctx context.Context, userID uuid.UUID, keep int) (int64, error) {
	tag, err := r.DB.Exec(ctx, trimHistory, userID, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
