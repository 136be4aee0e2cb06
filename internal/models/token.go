package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Verified access token claims
type AccessClaims struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verified refresh token claims
type RefreshClaims struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	FamilyID   uuid.UUID
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
}
