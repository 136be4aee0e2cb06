package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                uuid.UUID
	CreatedAt         time.Time
	Username          string
	HashedPassword    string
	Enabled           bool
	Verified          bool
	PasswordChangedAt time.Time
}

// Previously used password hash. Append-only, bounded per user.
type PasswordHistoryEntry struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	HashedPassword string
	ChangedAt      time.Time
}
