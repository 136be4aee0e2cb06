package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/observability"
)

// writeError renders service error. Security failures get generic messages, details stay in logs.
func writeError(w http.ResponseWriter, r *http.Request, l logger.Logger, err error) {
	if retry, ok := apperrors.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	}

	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		render.ServiceError(w, "Invalid login or password", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrAccountLocked):
		render.ServiceError(w, "Too many failed attempts, try later", http.StatusLocked)
	case errors.Is(err, apperrors.ErrRateLimited):
		render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
	case errors.Is(err, apperrors.ErrAccountDisabled), errors.Is(err, apperrors.ErrAccountNotVerified):
		render.ServiceError(w, "Account is not active", http.StatusForbidden)

	case errors.Is(err, apperrors.ErrTokenExpired):
		render.ServiceError(w, "Token expired", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrTokenInvalid),
		errors.Is(err, apperrors.ErrTokenRevoked),
		errors.Is(err, apperrors.ErrTokenReuseDetected):
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)

	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		render.ServiceError(w, "User already exists", http.StatusConflict)
	case errors.Is(err, apperrors.ErrPasswordPolicy), errors.Is(err, apperrors.ErrInvalidUsername):
		// Policy messages name the broken rule only
		render.ServiceError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, apperrors.ErrPasswordReused):
		render.ServiceError(w, "Password was used recently", http.StatusUnprocessableEntity)

	default:
		l.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		observability.CaptureError(err, map[string]string{"path": r.URL.Path})
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
