package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	reasonUnknownUser = "unknown_user"
	reasonBadPassword = "bad_password"
)

// Max time to settle reserved attempt once the request itself is gone
const settleTimeout = 5 * time.Second

type userFinder interface {
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

type attemptGuard interface {
	Acquire(ctx context.Context, identity string, origin string) error
	Fail(ctx context.Context, identity string, origin string, reason string) error
	Succeed(ctx context.Context, identity string, origin string) error
	Release(ctx context.Context, identity string, origin string) error
}

type VerifierConfig struct {
	// Reject users that not verified their account yet
	RequireVerified bool
}

// Verifier checks identifier and secret against stored password hash.
// Every failing path compares some hash, so response time does not tell unknown user,
// wrong password and locked pair apart.
type Verifier struct {
	cfg       VerifierConfig
	hasher    Hasher
	users     userFinder
	guard     attemptGuard
	logger    logger.Logger
	dummyHash string
}

func NewVerifier(cfg VerifierConfig, hasher Hasher, users userFinder, guard attemptGuard, l logger.Logger) (*Verifier, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("error while generating dummy password. Err: %w", err)
	}

	dummyHash, err := hasher.Hash(hex.EncodeToString(b))
	if err != nil {
		return nil, fmt.Errorf("error while hashing dummy password. Err: %w", err)
	}

	return &Verifier{
		cfg:       cfg,
		hasher:    hasher,
		users:     users,
		guard:     guard,
		logger:    l,
		dummyHash: dummyHash,
	}, nil
}

// Verify returns authenticated user or one of:
// apperrors.ErrInvalidCredentials, apperrors.ErrAccountLocked, apperrors.ErrRateLimited,
// apperrors.ErrAccountDisabled, apperrors.ErrAccountNotVerified, apperrors.ErrService
func (v *Verifier) Verify(ctx context.Context, identifier string, secret string, origin string) (models.User, error) {
	log := v.logger.With("identity", identifier, "origin", origin)

	err := v.guard.Acquire(ctx, identifier, origin)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrAccountLocked):
		_ = v.hasher.Compare(v.dummyHash, secret)
		return models.User{}, err
	default:
		return models.User{}, err
	}

	// Reserved attempt must be settled even if the caller went away
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	user, err := v.users.GetUserByUsername(ctx, identifier)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = v.hasher.Compare(v.dummyHash, secret)
		return models.User{}, v.fail(settleCtx, log, identifier, origin, reasonUnknownUser)
	default:
		v.release(settleCtx, log, identifier, origin)
		return models.User{}, apperrors.Service(fmt.Errorf("find user: %w", err))
	}

	err = v.hasher.Compare(user.HashedPassword, secret)
	switch {
	case err == nil:
	case errors.Is(err, ErrPasswordMismatch):
		return models.User{}, v.fail(settleCtx, log.With("user_id", user.ID), identifier, origin, reasonBadPassword)
	default:
		// Broken stored hash is a data problem, not a credentials one
		v.release(settleCtx, log, identifier, origin)
		return models.User{}, apperrors.Service(fmt.Errorf("compare password of user %s: %w", user.ID, err))
	}

	if err := v.guard.Succeed(settleCtx, identifier, origin); err != nil {
		return models.User{}, err
	}

	switch {
	case !user.Enabled:
		log.Warn("login rejected", "user_id", user.ID, "reason", "disabled")
		return models.User{}, apperrors.ErrAccountDisabled
	case v.cfg.RequireVerified && !user.Verified:
		log.Warn("login rejected", "user_id", user.ID, "reason", "not_verified")
		return models.User{}, apperrors.ErrAccountNotVerified
	}

	return user, nil
}

// Check compares secret with user's current hash without touching attempt counters
func (v *Verifier) Check(user models.User, secret string) error {
	err := v.hasher.Compare(user.HashedPassword, secret)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPasswordMismatch):
		return apperrors.ErrInvalidCredentials
	default:
		return apperrors.Service(err)
	}
}

func (v *Verifier) fail(ctx context.Context, log logger.Logger, identifier string, origin string, reason string) error {
	log.Warn("login failed", "reason", reason)

	if err := v.guard.Fail(ctx, identifier, origin, reason); err != nil {
		return err
	}
	return apperrors.ErrInvalidCredentials
}

// release gives the reservation back. Its error is only logged: the caller already fails with a service error
func (v *Verifier) release(ctx context.Context, log logger.Logger, identifier string, origin string) {
	if err := v.guard.Release(ctx, identifier, origin); err != nil {
		log.Error("release login attempt failed", "error", err)
	}
}
