package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: Save Refresh Token
INSERT INTO refresh_tokens (id, family_id, user_id, generation, issued_at, expires_at, consumed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	_, err := r.DB.Exec(ctx, saveToken,
		token.ID, token.FamilyID, token.UserID, token.Generation, token.IssuedAt, token.ExpiresAt, token.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getToken = `-- name: GetToken by jti
SELECT id, family_id, user_id, generation, issued_at, expires_at, consumed_at
FROM refresh_tokens
WHERE id = $1
`

// Get token
// It should return result even it expired or consumed
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenID uuid.UUID) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenID)
	token, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		var t models.RefreshToken
		err := row.Scan(&t.ID, &t.FamilyID, &t.UserID, &t.Generation, &t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt)
		return t, err
	})

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

// Concurrent updates of the same row are serialized by row lock,
// the loser re-checks 'consumed_at IS NULL' against committed row and updates nothing
const markTokenConsumed = `-- name: Mark token consumed if it not consumed
UPDATE refresh_tokens
SET consumed_at = $2
WHERE id = $1 AND consumed_at IS NULL
RETURNING consumed_at
`

// Mark token as consumed
// Should not rewrite already consumed tokens: exactly one caller wins
func (r *RefreshTokenRepo) MarkConsumed(ctx context.Context, tokenID uuid.UUID, at time.Time) (time.Time, error) {
	rows, _ := r.DB.Query(ctx, markTokenConsumed, tokenID, at)
	consumedAt, err := pgx.CollectOneRow(rows, pgx.RowTo[time.Time])

	switch {
	case err == nil:
		return consumedAt, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Token either consumed already or not exists
		token, getErr := r.Get(ctx, tokenID)
		if getErr != nil {
			return consumedAt, getErr
		}
		return *token.ConsumedAt, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenIsUsed)
	default:
		return consumedAt, fmt.Errorf("db error: %w", err)
	}
}

const deleteExpiredTokens = `-- name: Delete expired tokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTokens, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
