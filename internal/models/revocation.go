package models

import "time"

const (
	RevocationKindToken  = "token"
	RevocationKindFamily = "family"
)

// Denylist entry for token jti or family id
type RevocationEntry struct {
	ID        string
	Kind      string
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time // entry is pruned after this moment
}
