package passwordhistory

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
)

// In-memory history, newest entry last
type memHistory struct {
	entries []models.PasswordHistoryEntry
}

func (m *memHistory) Append(_ context.Context, e models.PasswordHistoryEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memHistory) LastHashes(_ context.Context, userID uuid.UUID, n int) ([]string, error) {
	var hashes []string
	for _, e := range slices.Backward(m.entries) {
		if e.UserID == userID && len(hashes) < n {
			hashes = append(hashes, e.HashedPassword)
		}
	}
	return hashes, nil
}

func (m *memHistory) Trim(_ context.Context, _ uuid.UUID, keep int) (int64, error) {
	if len(m.entries) <= keep {
		return 0, nil
	}
	deleted := len(m.entries) - keep
	m.entries = m.entries[deleted:]
	return int64(deleted), nil
}

func TestGuard(t *testing.T) {
	hasher := credential.BcryptHasher{Cost: bcrypt.MinCost}
	userID := uuid.New()
	at := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	remember := func(t *testing.T, g *Guard, h *memHistory, passwords ...string) {
		for _, p := range passwords {
			hash, err := hasher.Hash(p)
			require.NoError(t, err)
			require.NoError(t, g.Remember(t.Context(), h, userID, hash, at))
		}
	}

	t.Run("reused password rejected", func(t *testing.T) {
		g, err := NewGuard(3, hasher)
		require.NoError(t, err)
		h := &memHistory{}
		remember(t, g, h, "Passw0rd!1", "Passw0rd!2", "Passw0rd!3")

		for _, p := range []string{"Passw0rd!1", "Passw0rd!2", "Passw0rd!3"} {
			require.ErrorIs(t, g.Check(t.Context(), h, userID, p), apperrors.ErrPasswordReused, p)
		}
		require.NoError(t, g.Check(t.Context(), h, userID, "Passw0rd!4"))
	})

	t.Run("oldest evicted beyond size", func(t *testing.T) {
		g, err := NewGuard(3, hasher)
		require.NoError(t, err)
		h := &memHistory{}
		remember(t, g, h, "Passw0rd!1", "Passw0rd!2", "Passw0rd!3", "Passw0rd!4")

		require.Len(t, h.entries, 3)
		require.NoError(t, g.Check(t.Context(), h, userID, "Passw0rd!1"), "evicted password may be used again")
		require.ErrorIs(t, g.Check(t.Context(), h, userID, "Passw0rd!2"), apperrors.ErrPasswordReused)
	})

	t.Run("other user history ignored", func(t *testing.T) {
		g, err := NewGuard(3, hasher)
		require.NoError(t, err)
		h := &memHistory{}
		remember(t, g, h, "Passw0rd!1")

		require.NoError(t, g.Check(t.Context(), h, uuid.New(), "Passw0rd!1"))
	})

	t.Run("disabled", func(t *testing.T) {
		g, err := NewGuard(0, hasher)
		require.NoError(t, err)
		h := &memHistory{}
		remember(t, g, h, "Passw0rd!1")

		require.Empty(t, h.entries)
		require.NoError(t, g.Check(t.Context(), h, userID, "Passw0rd!1"))
	})

	t.Run("negative size", func(t *testing.T) {
		_, err := NewGuard(-1, hasher)

		require.Error(t, err)
	})
}
