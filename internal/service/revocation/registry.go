package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonRotated        = "rotated"
	ReasonReuse          = "reuse_detected"
	ReasonPasswordChange = "password_changed"
)

// Registry is durable denylist of token ids and token families.
// Entries are kept until the token they stand for would have expired anyway.
type Registry struct {
	storage repository.Storage
	logger  logger.Logger
	now     func() time.Time
}

type Option func(*Registry)

// WithClock overrides time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(storage repository.Storage, l logger.Logger, opts ...Option) *Registry {
	r := &Registry{storage: storage, logger: l, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tx returns registry bound to storage, usually the one of running transaction
func (r *Registry) Tx(s repository.Storage) *Registry {
	return &Registry{storage: s, logger: r.logger, now: r.now}
}

// IsRevoked reports whether any of token or family ids is on denylist
func (r *Registry) IsRevoked(ctx context.Context, ids ...uuid.UUID) (bool, error) {
	keys := make([]string, len(ids))
	for n, id := range ids {
		keys[n] = id.String()
	}

	revoked, err := r.storage.Revocation().Exists(ctx, keys...)
	if err != nil {
		return false, apperrors.Service(fmt.Errorf("check revocation: %w", err))
	}
	return revoked, nil
}

// Revoke puts token id on denylist until expiresAt
func (r *Registry) Revoke(ctx context.Context, tokenID uuid.UUID, expiresAt time.Time, reason string) error {
	err := r.storage.Revocation().Add(ctx, models.RevocationEntry{
		ID:        tokenID.String(),
		Kind:      models.RevocationKindToken,
		Reason:    reason,
		RevokedAt: r.now(),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return apperrors.Service(fmt.Errorf("revoke token: %w", err))
	}
	return nil
}

// RevokeFamily marks family revoked and puts it on denylist until its newest refresh token expires.
// Access tokens carry family id, so they are denied as well. Revoking twice is no-op.
func (r *Registry) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string) error {
	err := r.storage.InTx(ctx, func(s repository.Storage) error {
		family, err := s.Family().GetForUpdate(ctx, familyID)
		if err != nil {
			return err
		}
		return r.Tx(s).revokeFamily(ctx, family, reason)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrTokenFamilyNotFound):
		return err
	default:
		return apperrors.Service(fmt.Errorf("revoke family: %w", err))
	}
}

func (r *Registry) revokeFamily(ctx context.Context, family models.TokenFamily, reason string) error {
	now := r.now()

	if err := r.storage.Family().Revoke(ctx, family.ID, now); err != nil {
		return err
	}

	err := r.storage.Revocation().Add(ctx, models.RevocationEntry{
		ID:        family.ID.String(),
		Kind:      models.RevocationKindFamily,
		Reason:    reason,
		RevokedAt: now,
		ExpiresAt: family.ExpiresAt,
	})
	if err != nil {
		return err
	}

	r.logger.Info("token family revoked", "family_id", family.ID, "user_id", family.UserID, "reason", reason)
	return nil
}

// RevokeUser revokes every active family of the user
func (r *Registry) RevokeUser(ctx context.Context, userID uuid.UUID, reason string) (int, error) {
	var revoked int

	err := r.storage.InTx(ctx, func(s repository.Storage) error {
		families, err := s.Family().ListActive(ctx, userID, r.now())
		if err != nil {
			return err
		}

		for _, f := range families {
			family, err := s.Family().GetForUpdate(ctx, f.ID)
			if err != nil {
				return err
			}
			if family.Revoked() {
				continue
			}
			if err := r.Tx(s).revokeFamily(ctx, family, reason); err != nil {
				return err
			}
			revoked++
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Service(fmt.Errorf("revoke user families: %w", err))
	}

	return revoked, nil
}

// Prune drops entries whose tokens have expired. Correctness never depends on it.
func (r *Registry) Prune(ctx context.Context) (int64, error) {
	return r.storage.Revocation().Prune(ctx, r.now())
}
