package passwordhistory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
)

const DefaultSize = 5

// Guard rejects passwords matching any of the last Size hashes of the user
type Guard struct {
	size   int
	hasher credential.Hasher
}

// Zero size disables the check, history is still not stored then
func NewGuard(size int, hasher credential.Hasher) (*Guard, error) {
	if size < 0 {
		return nil, errors.New("password history size must not be negative")
	}
	return &Guard{size: size, hasher: hasher}, nil
}

func (g *Guard) Size() int {
	return g.size
}

// Check compares candidate with stored hashes using the hasher, plaintext is never stored or compared
// Returns apperrors.ErrPasswordReused on match
func (g *Guard) Check(ctx context.Context, history repository.PasswordHistoryRepo, userID uuid.UUID, candidate string) error {
	if g.size == 0 {
		return nil
	}

	hashes, err := history.LastHashes(ctx, userID, g.size)
	if err != nil {
		return apperrors.Service(fmt.Errorf("load password history: %w", err))
	}

	for _, hash := range hashes {
		err := g.hasher.Compare(hash, candidate)
		switch {
		case err == nil:
			return apperrors.ErrPasswordReused
		case errors.Is(err, credential.ErrPasswordMismatch):
			continue
		default:
			return apperrors.Service(fmt.Errorf("compare password history: %w", err))
		}
	}

	return nil
}

// Remember appends hash and evicts the oldest entries beyond size
func (g *Guard) Remember(ctx context.Context, history repository.PasswordHistoryRepo, userID uuid.UUID, hash string, at time.Time) error {
	if g.size == 0 {
		return nil
	}

	err := history.Append(ctx, models.PasswordHistoryEntry{
		ID:             uuid.New(),
		UserID:         userID,
		HashedPassword: hash,
		ChangedAt:      at,
	})
	if err != nil {
		return apperrors.Service(fmt.Errorf("append password history: %w", err))
	}

	if _, err := history.Trim(ctx, userID, g.size); err != nil {
		return apperrors.Service(fmt.Errorf("trim password history: %w", err))
	}

	return nil
}
