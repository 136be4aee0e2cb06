package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/models"
)

// Storage gives access to all repositories
// Repositories returned from storage passed to InTx callback share one transaction
type Storage interface {
	User() UserRepo
	History() PasswordHistoryRepo
	Family() FamilyRepo
	Refresh() RefreshTokenRepo
	Revocation() RevocationRepo
	Attempt() AttemptRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Same as GetUserByID but holds row lock until transaction ends
	GetUserForUpdate(ctx context.Context, userID uuid.UUID) (models.User, error)

	// Replace password hash wholesale
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string, changedAt time.Time) error

	SetStatus(ctx context.Context, userID uuid.UUID, enabled bool, verified bool) error
}

type PasswordHistoryRepo interface {
	Append(ctx context.Context, entry models.PasswordHistoryEntry) error

	// Return up to n newest hashes, newest first
	LastHashes(ctx context.Context, userID uuid.UUID, n int) ([]string, error)

	// Delete everything except keep newest entries
	Trim(ctx context.Context, userID uuid.UUID, keep int) (deleted int64, err error)
}

type FamilyRepo interface {
	Create(ctx context.Context, family models.TokenFamily) error

	// Get family. Must return apperrors.ErrTokenFamilyNotFound if it not exists
	Get(ctx context.Context, familyID uuid.UUID) (models.TokenFamily, error)

	// Same as Get but holds row lock until transaction ends
	GetForUpdate(ctx context.Context, familyID uuid.UUID) (models.TokenFamily, error)

	// Compare-and-swap generation: from -> from+1
	// If generation is not 'from' or family revoked must return apperrors.ErrTokenFamilyChanged
	Advance(ctx context.Context, familyID uuid.UUID, from int, expiresAt time.Time) (models.TokenFamily, error)

	// Mark family revoked. Revoking revoked family is no-op
	Revoke(ctx context.Context, familyID uuid.UUID, at time.Time) error

	// Active (not revoked, not expired) families of the user
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.TokenFamily, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) error

	// Return the token even it expired or consumed
	// Must return apperrors.ErrRefreshTokenNotFound if not exists
	Get(ctx context.Context, tokenID uuid.UUID) (models.RefreshToken, error)

	// Mark token consumed
	// If the token is consumed already, must not overwrite the existing 'consumedAt' and return apperrors.ErrRefreshTokenIsUsed
	MarkConsumed(ctx context.Context, tokenID uuid.UUID, at time.Time) (time.Time, error)

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type RevocationRepo interface {
	// Idempotent: re-adding the same id keeps the later expiry
	Add(ctx context.Context, entry models.RevocationEntry) error

	// Report whether any of ids has entry. Entries not pruned yet are authoritative
	Exists(ctx context.Context, ids ...string) (bool, error)

	Prune(ctx context.Context, now time.Time) (int64, error)
}

type AttemptRepo interface {
	// Get record with row lock, creating empty one if missing
	GetForUpdate(ctx context.Context, identity string, origin string, now time.Time) (models.LoginAttemptRecord, error)

	Update(ctx context.Context, record models.LoginAttemptRecord) error

	// Clear counters for pair
	Reset(ctx context.Context, identity string, origin string) error

	// Append attempt to audit log
	Record(ctx context.Context, attempt models.LoginAttempt) error

	// Atomically count hit for origin in fixed window started not earlier than windowStart
	HitOrigin(ctx context.Context, origin string, now time.Time, windowStart time.Time) (hits int, startedAt time.Time, err error)

	// Delete records and log entries not touched since before
	Prune(ctx context.Context, before time.Time) (int64, error)
}
