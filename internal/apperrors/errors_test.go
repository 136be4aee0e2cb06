package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, Service(nil))
	})

	t.Run("wraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")

		err := Service(cause)

		require.ErrorIs(t, err, ErrService)
		require.ErrorIs(t, err, cause)
	})

	t.Run("not wrapped twice", func(t *testing.T) {
		err := Service(Service(errors.New("boom")))

		require.Equal(t, "service unavailable: boom", err.Error())
	})
}

func TestTypedErrors(t *testing.T) {
	t.Run("locked", func(t *testing.T) {
		err := fmt.Errorf("login: %w", &LockedError{RetryAfter: 90 * time.Second})

		require.ErrorIs(t, err, ErrAccountLocked)
		require.NotErrorIs(t, err, ErrRateLimited)

		retry, ok := RetryAfter(err)
		require.True(t, ok)
		require.Equal(t, 90*time.Second, retry)
	})

	t.Run("rate limited", func(t *testing.T) {
		err := fmt.Errorf("login: %w", &RateLimitedError{RetryAfter: time.Minute})

		require.ErrorIs(t, err, ErrRateLimited)
		require.NotErrorIs(t, err, ErrAccountLocked)

		retry, ok := RetryAfter(err)
		require.True(t, ok)
		require.Equal(t, time.Minute, retry)
	})

	t.Run("no retry hint", func(t *testing.T) {
		_, ok := RetryAfter(ErrInvalidCredentials)

		require.False(t, ok)
	})
}
