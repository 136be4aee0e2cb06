package handlers

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Config struct {
	// Send refresh cookie over HTTPS only
	SecureCookie bool

	// Proxies allowed to set X-Forwarded-For. Empty means the header is ignored
	TrustedProxies []netip.Prefix
}

func NewRouter(authService authService, logger logger.Logger, cfg Config) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)
	tokens := tokenTransport{secure: cfg.SecureCookie}

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /register", handleRegister(authService, tokens, logger))
	apiauth.Handle("POST /login", handleLogin(authService, tokens, logger))
	apiauth.Handle("POST /refresh", handleTokenRefresh(authService, tokens, logger))
	apiauth.Handle("POST /logout", handleLogout(authService, tokens, logger))
	apiauth.Handle("POST /logout-all", withAuth(handleLogoutAll(authService, tokens, logger)))
	apiauth.Handle("POST /password", withAuth(handleChangePassword(authService, tokens, logger)))

	apiuser := http.NewServeMux()
	apiuser.Handle("GET /me", withAuth(handleUserMe()))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	root.Handle("/api/user/", http.StripPrefix("/api/user", apiuser))

	handler := chain(root,
		middleware.OriginMiddleware(cfg.TrustedProxies),
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user with username and password and log it in
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Login user with username and password from origin
	// Has to return apperrors.ErrInvalidCredentials whether user exists or not
	Login(ctx context.Context, username string, password string, origin string) (models.TokenPair, error)

	// Rotate refresh token
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke session of refresh token
	Logout(ctx context.Context, refresh string) error

	// Revoke every session of the user
	LogoutAll(ctx context.Context, userID uuid.UUID) (int, error)

	CheckPassword(ctx context.Context, userID uuid.UUID, secret string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, newSecret string) error

	// Resolve access token into user
	Authenticate(ctx context.Context, access string) (models.User, error)
}
