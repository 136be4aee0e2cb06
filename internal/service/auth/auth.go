package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/service/revocation"
)

const (
	tracerName = "github.com/nkiryanov/gopherauth/internal/service/auth"

	defaultOperationTimeout = 10 * time.Second
)

type credentialVerifier interface {
	Verify(ctx context.Context, identifier string, secret string, origin string) (models.User, error)
	Check(user models.User, secret string) error
}

type userService interface {
	CreateUser(ctx context.Context, username string, password string) (models.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) error
}

type sessionCoordinator interface {
	Start(ctx context.Context, userID uuid.UUID) (models.TokenPair, error)
	Rotate(ctx context.Context, refresh string) (models.TokenPair, error)
	Revoke(ctx context.Context, refresh string) error
}

type revocationRegistry interface {
	IsRevoked(ctx context.Context, ids ...uuid.UUID) (bool, error)
	RevokeUser(ctx context.Context, userID uuid.UUID, reason string) (int, error)
}

type accessParser interface {
	ParseAccess(access string) (models.AccessClaims, error)
}

type Config struct {
	// Upper bound for a single operation including storage round trips and signing
	OperationTimeout time.Duration
}

// Dependencies of auth service
type Deps struct {
	Verifier credentialVerifier
	Users    userService
	Sessions sessionCoordinator
	Registry revocationRegistry
	Tokens   accessParser
	Logger   logger.Logger
}

// AuthService is the API consumed by presentation layer
type AuthService struct {
	timeout  time.Duration
	verifier credentialVerifier
	users    userService
	sessions sessionCoordinator
	registry revocationRegistry
	tokens   accessParser
	logger   logger.Logger
	tracer   trace.Tracer
}

func NewService(cfg Config, deps Deps) (*AuthService, error) {
	if deps.Verifier == nil || deps.Users == nil || deps.Sessions == nil || deps.Registry == nil || deps.Tokens == nil {
		return nil, errors.New("auth service dependencies must not be nil")
	}

	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}

	l := deps.Logger
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		timeout:  cfg.OperationTimeout,
		verifier: deps.Verifier,
		users:    deps.Users,
		sessions: deps.Sessions,
		registry: deps.Registry,
		tokens:   deps.Tokens,
		logger:   l.WithGroup("auth"),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (s *AuthService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	return ctx, func(errp *error) {
		defer cancel()
		defer span.End()

		err := *errp
		if err == nil {
			return
		}

		// Deadline hit inside storage or signing is infrastructure failure
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrService) {
			*errp = apperrors.Service(err)
			err = *errp
		}

		span.RecordError(err)
		if errors.Is(err, apperrors.ErrService) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
}

// Register creates user and logs it in
func (s *AuthService) Register(ctx context.Context, username string, password string) (pair models.TokenPair, err error) {
	ctx, end := s.start(ctx, "auth.Register")
	defer end(&err)

	user, err := s.users.CreateUser(ctx, username, password)
	if err != nil {
		return pair, err
	}

	return s.sessions.Start(ctx, user.ID)
}

// Login verifies credentials and starts new token family
func (s *AuthService) Login(ctx context.Context, identifier string, secret string, origin string) (pair models.TokenPair, err error) {
	ctx, end := s.start(ctx, "auth.Login", attribute.String("auth.origin", origin))
	defer end(&err)

	user, err := s.verifier.Verify(ctx, identifier, secret, origin)
	if err != nil {
		return pair, err
	}

	pair, err = s.sessions.Start(ctx, user.ID)
	if err != nil {
		return pair, err
	}

	s.logger.Info("user logged in", "user_id", user.ID, "origin", origin)
	return pair, nil
}

// Refresh rotates refresh token
func (s *AuthService) Refresh(ctx context.Context, refresh string) (pair models.TokenPair, err error) {
	ctx, end := s.start(ctx, "auth.Refresh")
	defer end(&err)

	return s.sessions.Rotate(ctx, refresh)
}

// Logout revokes token family of refresh token
func (s *AuthService) Logout(ctx context.Context, refresh string) (err error) {
	ctx, end := s.start(ctx, "auth.Logout")
	defer end(&err)

	return s.sessions.Revoke(ctx, refresh)
}

// LogoutAll revokes every token family of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (n int, err error) {
	ctx, end := s.start(ctx, "auth.LogoutAll", attribute.String("auth.user_id", userID.String()))
	defer end(&err)

	n, err = s.registry.RevokeUser(ctx, userID, revocation.ReasonLogoutAll)
	if err != nil {
		return 0, err
	}

	s.logger.Info("user logged out everywhere", "user_id", userID, "revoked_families", n)
	return n, nil
}

// ChangePassword replaces user password. Caller has to authenticate the user first.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, newSecret string) (err error) {
	ctx, end := s.start(ctx, "auth.ChangePassword", attribute.String("auth.user_id", userID.String()))
	defer end(&err)

	return s.users.ChangePassword(ctx, userID, newSecret)
}

// CheckPassword compares secret with current password of the user.
// Returns apperrors.ErrInvalidCredentials on mismatch.
func (s *AuthService) CheckPassword(ctx context.Context, userID uuid.UUID, secret string) (err error) {
	ctx, end := s.start(ctx, "auth.CheckPassword", attribute.String("auth.user_id", userID.String()))
	defer end(&err)

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	return s.verifier.Check(user, secret)
}

// Authenticate resolves access token into user.
// Token must be valid, neither it nor its family revoked, and user must be enabled.
func (s *AuthService) Authenticate(ctx context.Context, access string) (user models.User, err error) {
	ctx, end := s.start(ctx, "auth.Authenticate")
	defer end(&err)

	claims, err := s.tokens.ParseAccess(access)
	if err != nil {
		return user, err
	}

	revoked, err := s.registry.IsRevoked(ctx, claims.ID, claims.FamilyID)
	if err != nil {
		return user, err
	}
	if revoked {
		return user, apperrors.ErrTokenRevoked
	}

	user, err = s.users.GetUser(ctx, claims.UserID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, fmt.Errorf("%w: unknown subject", apperrors.ErrTokenInvalid)
	default:
		return models.User{}, err
	}

	if !user.Enabled {
		return models.User{}, apperrors.ErrAccountDisabled
	}

	return user, nil
}
