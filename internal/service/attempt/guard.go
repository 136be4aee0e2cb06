package attempt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

// Guard tracks login attempts per (identity, origin) pair and per origin.
// State lives in storage, so every service instance sees the same counters.
type Guard struct {
	policy  Policy
	storage repository.Storage
	logger  logger.Logger
	now     func() time.Time
}

type Option func(*Guard)

// WithClock overrides time source
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

func NewGuard(policy Policy, storage repository.Storage, l logger.Logger, opts ...Option) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	g := &Guard{
		policy:  policy,
		storage: storage,
		logger:  l,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Guard) Policy() Policy {
	return g.policy
}

// Acquire reserves attempt for the pair
// Returns *apperrors.RateLimitedError if origin is over its limit, *apperrors.LockedError if pair is locked
func (g *Guard) Acquire(ctx context.Context, identity string, origin string) error {
	identity = normalize(identity)
	now := g.now()

	if err := g.hitOrigin(ctx, origin, now); err != nil {
		return err
	}

	var retryAfter time.Duration
	var allowed bool

	err := g.storage.InTx(ctx, func(s repository.Storage) error {
		rec, err := s.Attempt().GetForUpdate(ctx, identity, origin, now)
		if err != nil {
			return err
		}

		rec, retryAfter, allowed = g.policy.acquire(rec, now)
		if err := s.Attempt().Update(ctx, rec); err != nil {
			return err
		}

		if allowed {
			return nil
		}
		return s.Attempt().Record(ctx, models.LoginAttempt{
			Identity:   identity,
			Origin:     origin,
			Outcome:    models.AttemptLocked,
			OccurredAt: now,
		})
	})
	if err != nil {
		return apperrors.Service(fmt.Errorf("acquire login attempt: %w", err))
	}

	if !allowed {
		g.logger.Warn("login attempt rejected, pair locked",
			"identity", identity, "origin", origin, "reason", "locked", "retry_after", retryAfter)
		return &apperrors.LockedError{RetryAfter: retryAfter}
	}

	return nil
}

func (g *Guard) hitOrigin(ctx context.Context, origin string, now time.Time) error {
	if g.policy.OriginLimit == 0 {
		return nil
	}

	hits, startedAt, err := g.storage.Attempt().HitOrigin(ctx, origin, now, now.Add(-g.policy.OriginWindow))
	if err != nil {
		return apperrors.Service(fmt.Errorf("count origin attempt: %w", err))
	}

	if hits > g.policy.OriginLimit {
		retryAfter := startedAt.Add(g.policy.OriginWindow).Sub(now)
		g.logger.Warn("login attempt rejected, origin rate limited",
			"origin", origin, "reason", "rate_limited", "hits", hits, "retry_after", retryAfter)
		return &apperrors.RateLimitedError{RetryAfter: retryAfter}
	}

	return nil
}

// Fail settles reserved attempt as failed
func (g *Guard) Fail(ctx context.Context, identity string, origin string, reason string) error {
	identity = normalize(identity)
	now := g.now()

	var locked bool
	var rec models.LoginAttemptRecord

	err := g.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		rec, err = s.Attempt().GetForUpdate(ctx, identity, origin, now)
		if err != nil {
			return err
		}

		rec, locked = g.policy.fail(rec, now)
		if err := s.Attempt().Update(ctx, rec); err != nil {
			return err
		}

		return s.Attempt().Record(ctx, models.LoginAttempt{
			Identity:   identity,
			Origin:     origin,
			Outcome:    models.AttemptFailure,
			Reason:     reason,
			OccurredAt: now,
		})
	})
	if err != nil {
		return apperrors.Service(fmt.Errorf("record failed login attempt: %w", err))
	}

	if locked {
		g.logger.Warn("login lockout engaged",
			"identity", identity, "origin", origin, "failures", rec.Failures,
			"lockouts", rec.Lockouts, "locked_until", *rec.LockedUntil)
	}

	return nil
}

// Release returns reserved attempt that ended without checking the secret (storage error, cancellation)
func (g *Guard) Release(ctx context.Context, identity string, origin string) error {
	identity = normalize(identity)
	now := g.now()

	err := g.storage.InTx(ctx, func(s repository.Storage) error {
		rec, err := s.Attempt().GetForUpdate(ctx, identity, origin, now)
		if err != nil {
			return err
		}
		return s.Attempt().Update(ctx, g.policy.release(rec, now))
	})
	if err != nil {
		return apperrors.Service(fmt.Errorf("release login attempt: %w", err))
	}

	return nil
}

// Succeed clears the window for the pair
func (g *Guard) Succeed(ctx context.Context, identity string, origin string) error {
	identity = normalize(identity)
	now := g.now()

	err := g.storage.InTx(ctx, func(s repository.Storage) error {
		if err := s.Attempt().Reset(ctx, identity, origin); err != nil {
			return err
		}

		return s.Attempt().Record(ctx, models.LoginAttempt{
			Identity:   identity,
			Origin:     origin,
			Outcome:    models.AttemptSuccess,
			OccurredAt: now,
		})
	})
	if err != nil {
		return apperrors.Service(fmt.Errorf("reset login attempts: %w", err))
	}

	return nil
}

// Prune removes records idle long enough to not affect any decision
func (g *Guard) Prune(ctx context.Context) (int64, error) {
	retention := max(g.policy.Window, g.policy.OriginWindow) + g.policy.CooldownCap
	return g.storage.Attempt().Prune(ctx, g.now().Add(-retention))
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
