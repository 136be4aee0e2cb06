package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultSigningTimeout  = 2 * time.Second
	defaultIssuer          = "gopherauth"
)

type accessClaims struct {
	jwt.RegisteredClaims
	Type   string `json:"type"`
	Family string `json:"family"`
}

type refreshClaims struct {
	jwt.RegisteredClaims
	Type       string `json:"type"`
	Family     string `json:"family"`
	Generation int    `json:"gen"`
}

// Issuer config with sensible default
type Config struct {
	// Value of 'iss' claim, checked on parsing
	Issuer string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Max time to get signing key and sign the pair
	SigningTimeout time.Duration
}

// Issuer mints and verifies signed token pairs. It is stateless: persisting refresh tokens is up to caller.
type Issuer struct {
	cfg  Config
	keys KeyProvider
	now  func() time.Time
}

type Option func(*Issuer)

// WithClock overrides time source
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(cfg Config, keys KeyProvider, opts ...Option) (*Issuer, error) {
	if keys == nil {
		return nil, errors.New("key provider must not be nil")
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.SigningTimeout, defaultSigningTimeout)
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}

	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh token ttl must not be less than access token ttl")
	}

	i := &Issuer{cfg: cfg, keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.cfg.RefreshTTL
}

// Issue signs access and refresh tokens for the family generation.
// Nothing is persisted here, so failed signing never leaves half-issued pair behind.
// Errors are apperrors.ErrService.
func (i *Issuer) Issue(ctx context.Context, userID uuid.UUID, familyID uuid.UUID, generation int) (models.TokenPair, models.RefreshToken, error) {
	var pair models.TokenPair

	ctx, cancel := context.WithTimeout(ctx, i.cfg.SigningTimeout)
	defer cancel()

	key, err := i.keys.SigningKey(ctx)
	if err != nil {
		return pair, models.RefreshToken{}, apperrors.Service(fmt.Errorf("signing key unavailable: %w", err))
	}

	now := i.now().Truncate(time.Second)
	accessExpiresAt := now.Add(i.cfg.AccessTTL)
	refreshExpiresAt := now.Add(i.cfg.RefreshTTL)
	refreshID := uuid.New()

	access, err := i.sign(key, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
		},
		Type:   models.TokenTypeAccess,
		Family: familyID.String(),
	})
	if err != nil {
		return pair, models.RefreshToken{}, apperrors.Service(fmt.Errorf("error while signing access token. Err: %w", err))
	}

	refresh, err := i.sign(key, refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        refreshID.String(),
			Issuer:    i.cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiresAt),
		},
		Type:       models.TokenTypeRefresh,
		Family:     familyID.String(),
		Generation: generation,
	})
	if err != nil {
		return pair, models.RefreshToken{}, apperrors.Service(fmt.Errorf("error while signing refresh token. Err: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return pair, models.RefreshToken{}, apperrors.Service(fmt.Errorf("signing timed out: %w", err))
	}

	pair = models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}
	token := models.RefreshToken{
		ID:         refreshID,
		FamilyID:   familyID,
		UserID:     userID,
		Generation: generation,
		IssuedAt:   now,
		ExpiresAt:  refreshExpiresAt,
	}

	return pair, token, nil
}

func (i *Issuer) sign(key Key, claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(key.Method, claims)
	t.Header["kid"] = key.ID
	return t.SignedString(key.Private)
}

// ParseAccess verifies signature, issuer, expiry and type of access token
// Returns apperrors.ErrTokenExpired or apperrors.ErrTokenInvalid
func (i *Issuer) ParseAccess(access string) (models.AccessClaims, error) {
	claims := &accessClaims{}
	if err := i.parse(access, claims); err != nil {
		return models.AccessClaims{}, err
	}
	if claims.Type != models.TokenTypeAccess {
		return models.AccessClaims{}, fmt.Errorf("%w: unexpected token type %q", apperrors.ErrTokenInvalid, claims.Type)
	}

	ids, err := parseIDs(claims.ID, claims.Subject, claims.Family)
	if err != nil {
		return models.AccessClaims{}, err
	}

	return models.AccessClaims{
		ID:        ids[0],
		UserID:    ids[1],
		FamilyID:  ids[2],
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ParseRefresh verifies signature, issuer, expiry and type of refresh token
// Returns apperrors.ErrTokenExpired or apperrors.ErrTokenInvalid
func (i *Issuer) ParseRefresh(refresh string) (models.RefreshClaims, error) {
	claims := &refreshClaims{}
	if err := i.parse(refresh, claims); err != nil {
		return models.RefreshClaims{}, err
	}
	if claims.Type != models.TokenTypeRefresh {
		return models.RefreshClaims{}, fmt.Errorf("%w: unexpected token type %q", apperrors.ErrTokenInvalid, claims.Type)
	}
	if claims.Generation < 0 {
		return models.RefreshClaims{}, fmt.Errorf("%w: negative generation", apperrors.ErrTokenInvalid)
	}

	ids, err := parseIDs(claims.ID, claims.Subject, claims.Family)
	if err != nil {
		return models.RefreshClaims{}, err
	}

	return models.RefreshClaims{
		ID:         ids[0],
		UserID:     ids[1],
		FamilyID:   ids[2],
		Generation: claims.Generation,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

func (i *Issuer) parse(value string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return i.keys.VerificationKey(kid)
		},
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodEdDSA.Alg(),
		}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", apperrors.ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}
}

func parseIDs(values ...string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(values))
	for n, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed claim: %w", apperrors.ErrTokenInvalid, err)
		}
		ids[n] = id
	}
	return ids, nil
}
