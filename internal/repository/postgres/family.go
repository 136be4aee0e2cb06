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

type FamilyRepo struct {
	DB DBTX
}

const familyColumns = `id, user_id, created_at, generation, expires_at, revoked_at`

const createFamily = `-- name: CreateFamily
INSERT INTO token_families (id, user_id, created_at, generation, expires_at)
VALUES ($1, $2, $3, $4, $5)
`

func (r *FamilyRepo) Create(ctx context.Context, f models.TokenFamily) error {
	_, err := r.DB.Exec(ctx, createFamily, f.ID, f.UserID, f.CreatedAt, f.Generation, f.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getFamily = `-- name: GetFamily
SELECT ` + familyColumns + ` FROM token_families
WHERE id = $1
`

func (r *FamilyRepo) Get(ctx context.Context, familyID uuid.UUID) (models.TokenFamily, error) {
	rows, _ := r.DB.Query(ctx, getFamily, familyID)
	return collectFamily(rows)
}

// Row stays locked until the surrounding transaction ends.
// Concurrent rotations of the same family wait here and observe committed state.
const getFamilyForUpdate = getFamily + `FOR UPDATE
`

func (r *FamilyRepo) GetForUpdate(ctx context.Context, familyID uuid.UUID) (models.TokenFamily, error) {
	rows, _ := r.DB.Query(ctx, getFamilyForUpdate, familyID)
	return collectFamily(rows)
}

const advanceFamily = `-- name: AdvanceFamily
UPDATE token_families
SET generation = generation + 1, expires_at = $3
WHERE id = $1 AND generation = $2 AND revoked_at IS NULL
RETURNING ` + familyColumns

func (r *FamilyRepo) Advance(ctx context.Context, familyID uuid.UUID, from int, expiresAt time.Time) (models.TokenFamily, error) {
	rows, _ := r.DB.Query(ctx, advanceFamily, familyID, from, expiresAt)
	family, err := pgx.CollectOneRow(rows, rowToFamily)

	switch {
	case err == nil:
		return family, nil
	case errors.Is(err, pgx.ErrNoRows):
		return family, apperrors.ErrTokenFamilyChanged
	default:
		return family, fmt.Errorf("db error: %w", err)
	}
}

const revokeFamily = `-- name: RevokeFamily
UPDATE token_families
SET revoked_at = COALESCE(revoked_at, $2)
WHERE id = $1
`

func (r *FamilyRepo) Revoke(ctx context.Context, familyID uuid.UUID, at time.Time) error {
	tag, err := r.DB.Exec(ctx, revokeFamily, familyID, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrTokenFamilyNotFound
	}
	return nil
}

const listActiveFamilies = `-- name: ListActiveFamilies
SELECT ` + familyColumns + ` FROM token_families
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY created_at
`

func (r *FamilyRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.TokenFamily, error) {
	rows, _ := r.DB.Query(ctx, listActiveFamilies, userID, now)
	families, err := pgx.CollectRows(rows, rowToFamily)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return families, nil
}

func collectFamily(rows pgx.Rows) (models.TokenFamily, error) {
	family, err := pgx.CollectOneRow(rows, rowToFamily)

	switch {
	case err == nil:
		return family, nil
	case errors.Is(err, pgx.ErrNoRows):
		return family, apperrors.ErrTokenFamilyNotFound
	default:
		return family, fmt.Errorf("db error: %w", err)
	}
}

func rowToFamily(row pgx.CollectableRow) (models.TokenFamily, error) {
	var f models.TokenFamily
	err := row.Scan(&f.ID, &f.UserID, &f.CreatedAt, &f.Generation, &f.ExpiresAt, &f.RevokedAt)
	return f, err
}
