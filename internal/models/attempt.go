package models

import "time"

const (
	AttemptSuccess = "success"
	AttemptFailure = "failure"
	AttemptLocked  = "locked"
)

// Login attempt counters for (identity, origin) pair
type LoginAttemptRecord struct {
	Identity       string
	Origin         string
	Failures       int       // attempts counted in current window, including reserved ones
	WindowStarted  time.Time // zero if no attempts counted
	LockedUntil    *time.Time
	Lockouts       int // lockouts in a row, used for backoff
	LastLockoutEnd *time.Time
	UpdatedAt      time.Time
}

// One login attempt, kept for audit
type LoginAttempt struct {
	Identity   string
	Origin     string
	Outcome    string
	Reason     string
	OccurredAt time.Time
}
