package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Security failures. Messages are generic on purpose and safe to show to clients.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAccountNotVerified = errors.New("account not verified")
	ErrRateLimited        = errors.New("too many attempts")

	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenReuseDetected = errors.New("token reuse detected")

	ErrPasswordReused  = errors.New("password was used recently")
	ErrPasswordPolicy  = errors.New("password does not match policy")
	ErrInvalidUsername = errors.New("invalid username")

	// Infrastructure failure: storage, signing or timeout
	ErrService = errors.New("service unavailable")
)

// Storage level errors
var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")

	ErrTokenFamilyNotFound = errors.New("token family not found")
	ErrTokenFamilyChanged  = errors.New("token family generation changed")
)

// Service wraps infrastructure error so errors.Is(err, ErrService) holds and the cause stays inspectable.
// Nil stays nil.
func Service(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrService) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrService, err)
}

// LockedError is returned while (identity, origin) pair is in cooldown.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrAccountLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RateLimitedError is returned when origin exceeds its attempts budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts retry hint from locked or rate limited errors.
func RetryAfter(err error) (time.Duration, bool) {
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked.RetryAfter, true
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}

	return 0, false
}
