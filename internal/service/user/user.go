package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/passwordhistory"
	"github.com/nkiryanov/gopherauth/internal/service/revocation"
)

const maxUsernameLength = 254

type UserService struct {
	storage  repository.Storage
	hasher   credential.Hasher
	history  *passwordhistory.Guard
	registry *revocation.Registry
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*UserService)

func WithClock(now func() time.Time) Option {
	return func(s *UserService) {
		s.now = now
	}
}

func NewService(
	storage repository.Storage,
	hasher credential.Hasher,
	history *passwordhistory.Guard,
	registry *revocation.Registry,
	l logger.Logger,
	opts ...Option,
) *UserService {
	s := &UserService{
		storage:  storage,
		hasher:   hasher,
		history:  history,
		registry: registry,
		logger:   l,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser stores user with hashed password and seeds password history with it
func (s *UserService) CreateUser(ctx context.Context, username string, password string) (models.User, error) {
	var user models.User

	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return user, fmt.Errorf("%w: must be 1 to %d characters", apperrors.ErrInvalidUsername, maxUsernameLength)
	}

	if err := credential.CheckStrength(password); err != nil {
		return user, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, apperrors.Service(fmt.Errorf("hash password: %w", err))
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		user, err = tx.User().CreateUser(ctx, username, hash)
		if err != nil {
			return err
		}
		return s.history.Remember(ctx, tx.History(), user.ID, hash, s.now())
	})

	switch {
	case err == nil:
		s.logger.Info("user registered", "user_id", user.ID)
		return user, nil
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		return models.User{}, err
	default:
		return models.User{}, apperrors.Service(fmt.Errorf("can't create user. Err: %w", err))
	}
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, err
	default:
		return user, apperrors.Service(fmt.Errorf("get user: %w", err))
	}
}

// ChangePassword replaces credential of the user.
// The new password must pass strength policy and not match any remembered hash.
// All refresh token families of the user are revoked together with the change.
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	if err := credential.CheckStrength(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperrors.Service(fmt.Errorf("hash password: %w", err))
	}

	var revoked int

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		// Concurrent changes of one user run one after another, so each sees the other's history
		if _, err := tx.User().GetUserForUpdate(ctx, userID); err != nil {
			return err
		}

		if err := s.history.Check(ctx, tx.History(), userID, newPassword); err != nil {
			return err
		}

		now := s.now()
		if err := tx.User().UpdatePassword(ctx, userID, hash, now); err != nil {
			return err
		}

		if err := s.history.Remember(ctx, tx.History(), userID, hash, now); err != nil {
			return err
		}

		revoked, err = s.registry.Tx(tx).RevokeUser(ctx, userID, revocation.ReasonPasswordChange)
		return err
	})

	switch {
	case err == nil:
		s.logger.Info("password changed", "user_id", userID, "revoked_families", revoked)
		return nil
	case errors.Is(err, apperrors.ErrUserNotFound), errors.Is(err, apperrors.ErrPasswordReused), errors.Is(err, apperrors.ErrService):
		return err
	default:
		return apperrors.Service(fmt.Errorf("change password: %w", err))
	}
}

// SetStatus enables, disables or marks user verified
func (s *UserService) SetStatus(ctx context.Context, userID uuid.UUID, enabled bool, verified bool) error {
	err := s.storage.User().SetStatus(ctx, userID, enabled, verified)
	switch {
	case err == nil:
		s.logger.Info("user status changed", "user_id", userID, "enabled", enabled, "verified", verified)
		return nil
	case errors.Is(err, apperrors.ErrUserNotFound):
		return err
	default:
		return apperrors.Service(fmt.Errorf("set user status: %w", err))
	}
}
