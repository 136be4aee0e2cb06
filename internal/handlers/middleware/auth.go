package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	AccessHeaderName = "Authorization"
	AccessAuthScheme = "Bearer"
)

type authService interface {
	Authenticate(ctx context.Context, access string) (models.User, error)
}

// BearerToken extracts access token from Authorization header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get(AccessHeaderName), " ")
	if !ok || !strings.EqualFold(scheme, AccessAuthScheme) {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware puts authenticated user into request context or responds 401
func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := BearerToken(r)
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := as.Authenticate(r.Context(), access)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrService):
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			case errors.Is(err, apperrors.ErrTokenExpired):
				render.ServiceError(w, "Token expired", http.StatusUnauthorized)
				return
			default:
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
