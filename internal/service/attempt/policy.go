package attempt

import (
	"errors"
	"time"

	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	defaultThreshold    = 5
	defaultWindow       = 15 * time.Minute
	defaultCooldown     = 15 * time.Minute
	defaultCooldownCap  = 24 * time.Hour
	defaultOriginLimit  = 100
	defaultOriginWindow = 15 * time.Minute
)

// Lockout and rate limit policy with sensible defaults
type Policy struct {
	// Failed attempts allowed per (identity, origin) within Window
	Threshold int
	Window    time.Duration

	// First lockout lasts Cooldown, every next one in a row doubles it up to CooldownCap
	Cooldown    time.Duration
	CooldownCap time.Duration

	// Attempts allowed per origin within OriginWindow across all identities
	// Zero OriginLimit disables the limit
	OriginLimit  int
	OriginWindow time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold:    defaultThreshold,
		Window:       defaultWindow,
		Cooldown:     defaultCooldown,
		CooldownCap:  defaultCooldownCap,
		OriginLimit:  defaultOriginLimit,
		OriginWindow: defaultOriginWindow,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.Threshold < 1:
		return errors.New("lockout threshold must be positive")
	case p.Window <= 0 || p.Cooldown <= 0:
		return errors.New("lockout window and cooldown must be positive")
	case p.CooldownCap < p.Cooldown:
		return errors.New("lockout cooldown cap must not be less than cooldown")
	case p.OriginLimit < 0:
		return errors.New("origin limit must not be negative")
	case p.OriginLimit > 0 && p.OriginWindow <= 0:
		return errors.New("origin window must be positive")
	}
	return nil
}

// Cooldown duration after 'lockouts' previous lockouts in a row
func (p Policy) cooldown(lockouts int) time.Duration {
	d := p.Cooldown
	for i := 0; i < lockouts && d < p.CooldownCap; i++ {
		d *= 2
	}
	return min(d, p.CooldownCap)
}

// acquire reserves one attempt for the pair.
// Reservation is counted as failure until the attempt succeeds and record is reset,
// so concurrent attempts can't pass more than Threshold in one window.
func (p Policy) acquire(rec models.LoginAttemptRecord, now time.Time) (models.LoginAttemptRecord, time.Duration, bool) {
	rec.UpdatedAt = now

	if rec.LockedUntil != nil {
		if now.Before(*rec.LockedUntil) {
			return rec, rec.LockedUntil.Sub(now), false
		}

		// Cooldown is over: start from scratch but remember lockout for backoff
		end := *rec.LockedUntil
		rec.LastLockoutEnd = &end
		rec.LockedUntil = nil
		rec.Failures = 0
		rec.WindowStarted = time.Time{}
	}

	if rec.LastLockoutEnd != nil && now.Sub(*rec.LastLockoutEnd) >= p.CooldownCap {
		rec.Lockouts = 0
		rec.LastLockoutEnd = nil
	}

	if rec.WindowStarted.IsZero() || now.Sub(rec.WindowStarted) >= p.Window {
		rec.Failures = 0
		rec.WindowStarted = now
	}

	// Window budget is spent, some attempts may be still in flight
	if rec.Failures >= p.Threshold {
		return rec, p.cooldown(rec.Lockouts), false
	}

	rec.Failures++
	return rec, 0, true
}

// fail settles a reserved attempt as failed and engages lockout once Threshold is reached
func (p Policy) fail(rec models.LoginAttemptRecord, now time.Time) (models.LoginAttemptRecord, bool) {
	rec.UpdatedAt = now

	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return rec, false
	}

	// Reservation is lost (window passed or record was reset): count failure anew
	if rec.WindowStarted.IsZero() || now.Sub(rec.WindowStarted) >= p.Window {
		rec.Failures = 1
		rec.WindowStarted = now
	}

	if rec.Failures < p.Threshold {
		return rec, false
	}

	lockedUntil := now.Add(p.cooldown(rec.Lockouts))
	rec.LockedUntil = &lockedUntil
	rec.Lockouts++
	return rec, true
}

// release gives back a reservation that ended with neither failure nor success
func (p Policy) release(rec models.LoginAttemptRecord, now time.Time) models.LoginAttemptRecord {
	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return rec
	}

	// Reservation belonged to a window that is already over
	if rec.WindowStarted.IsZero() || now.Sub(rec.WindowStarted) >= p.Window {
		return rec
	}

	rec.UpdatedAt = now
	rec.Failures = max(rec.Failures-1, 0)
	return rec
}
