package rotation

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
	"github.com/nkiryanov/gopherauth/internal/service/revocation"
)

type tokenIssuer interface {
	Issue(ctx context.Context, userID uuid.UUID, familyID uuid.UUID, generation int) (models.TokenPair, models.RefreshToken, error)
	ParseRefresh(refresh string) (models.RefreshClaims, error)
}

// Coordinator drives refresh token families: start on login, rotate on refresh, revoke on logout
type Coordinator struct {
	storage  repository.Storage
	issuer   tokenIssuer
	registry *revocation.Registry
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(storage repository.Storage, issuer tokenIssuer, registry *revocation.Registry, l logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		storage:  storage,
		issuer:   issuer,
		registry: registry,
		logger:   l,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens new token family at generation 0 and returns its first pair
func (c *Coordinator) Start(ctx context.Context, userID uuid.UUID) (models.TokenPair, error) {
	familyID := uuid.New()

	pair, token, err := c.issuer.Issue(ctx, userID, familyID, 0)
	if err != nil {
		return models.TokenPair{}, err
	}

	err = c.storage.InTx(ctx, func(s repository.Storage) error {
		err := s.Family().Create(ctx, models.TokenFamily{
			ID:        familyID,
			UserID:    userID,
			CreatedAt: c.now(),
			ExpiresAt: token.ExpiresAt,
		})
		if err != nil {
			return err
		}
		return s.Refresh().Save(ctx, token)
	})
	if err != nil {
		return models.TokenPair{}, apperrors.Service(fmt.Errorf("start token family: %w", err))
	}

	return pair, nil
}

// Rotate exchanges refresh token for the next pair of its family.
//
// Presenting consumed, denylisted or outdated token revokes whole family and fails with
// apperrors.ErrTokenReuseDetected. Consuming the token, advancing the generation and
// storing the successor happen in one transaction under family row lock, so of two
// concurrent rotations of the same token exactly one succeeds.
func (c *Coordinator) Rotate(ctx context.Context, refresh string) (models.TokenPair, error) {
	claims, err := c.issuer.ParseRefresh(refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	// Signing happens before the lock is taken. Refused rotation just drops the pair.
	next, nextToken, err := c.issuer.Issue(ctx, claims.UserID, claims.FamilyID, claims.Generation+1)
	if err != nil {
		return models.TokenPair{}, err
	}

	var outcome error

	err = c.storage.InTx(ctx, func(s repository.Storage) error {
		registry := c.registry.Tx(s)

		reuse := func(family models.TokenFamily) error {
			c.logger.Warn("refresh token reuse detected",
				"user_id", family.UserID,
				"family_id", family.ID,
				"token_id", claims.ID,
				"generation", claims.Generation,
				"current_generation", family.Generation,
			)
			outcome = apperrors.ErrTokenReuseDetected
			return registry.RevokeFamily(ctx, family.ID, revocation.ReasonReuse)
		}

		family, err := s.Family().GetForUpdate(ctx, claims.FamilyID)
		switch {
		case errors.Is(err, apperrors.ErrTokenFamilyNotFound):
			outcome = fmt.Errorf("%w: unknown family", apperrors.ErrTokenInvalid)
			return nil
		case err != nil:
			return err
		}

		token, err := s.Refresh().Get(ctx, claims.ID)
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			outcome = fmt.Errorf("%w: unknown token", apperrors.ErrTokenInvalid)
			return nil
		case err != nil:
			return err
		}

		if token.FamilyID != family.ID || token.UserID != claims.UserID {
			outcome = fmt.Errorf("%w: token does not belong to family", apperrors.ErrTokenInvalid)
			return nil
		}

		revoked, err := registry.IsRevoked(ctx, token.ID)
		if err != nil {
			return err
		}

		if revoked || token.Consumed() || family.Generation != claims.Generation {
			return reuse(family)
		}

		if family.Revoked() {
			outcome = apperrors.ErrTokenRevoked
			return nil
		}

		_, err = s.Refresh().MarkConsumed(ctx, token.ID, c.now())
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenIsUsed):
			return reuse(family)
		case err != nil:
			return err
		}

		_, err = s.Family().Advance(ctx, family.ID, claims.Generation, nextToken.ExpiresAt)
		switch {
		case errors.Is(err, apperrors.ErrTokenFamilyChanged):
			return reuse(family)
		case err != nil:
			return err
		}

		if err := s.Refresh().Save(ctx, nextToken); err != nil {
			return err
		}

		return registry.Revoke(ctx, token.ID, token.ExpiresAt, revocation.ReasonRotated)
	})
	if err != nil {
		return models.TokenPair{}, apperrors.Service(fmt.Errorf("rotate refresh token: %w", err))
	}

	if outcome != nil {
		return models.TokenPair{}, outcome
	}

	c.logger.Debug("refresh token rotated", "user_id", claims.UserID, "family_id", claims.FamilyID, "generation", claims.Generation+1)
	return next, nil
}

// Revoke ends the family of refresh token.
// Expired token is acknowledged without revoking anything.
func (c *Coordinator) Revoke(ctx context.Context, refresh string) error {
	claims, err := c.issuer.ParseRefresh(refresh)
	switch {
	case errors.Is(err, apperrors.ErrTokenExpired):
		return nil
	case err != nil:
		return err
	}

	err = c.registry.RevokeFamily(ctx, claims.FamilyID, revocation.ReasonLogout)
	if errors.Is(err, apperrors.ErrTokenFamilyNotFound) {
		return fmt.Errorf("%w: unknown family", apperrors.ErrTokenInvalid)
	}
	return err
}

// Prune deletes refresh tokens that expired. Replaying any of them fails as expired before storage is consulted.
func (c *Coordinator) Prune(ctx context.Context) (int64, error) {
	return c.storage.Refresh().DeleteExpired(ctx, c.now())
}
