package models

import (
	"time"

	"github.com/google/uuid"
)

// Lineage of refresh tokens started by one login
type TokenFamily struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CreatedAt  time.Time
	Generation int
	ExpiresAt  time.Time  // expiry of the newest refresh token in family
	RevokedAt  *time.Time // nil if family is active
}

func (f TokenFamily) Revoked() bool {
	return f.RevokedAt != nil
}

type RefreshToken struct {
	ID         uuid.UUID // jti claim
	FamilyID   uuid.UUID
	UserID     uuid.UUID
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time // nil if token not consumed
}

func (t RefreshToken) Consumed() bool {
	return t.ConsumedAt != nil
}
