package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

type messageResponse struct {
	Message string `json:"message"`
}

func handleRegister(as authService, tokens tokenTransport, l logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,max=254,identifier"`
		Password string `json:"password" validate:"required,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := as.Register(r.Context(), data.Login, data.Password)
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		tokens.set(w, pair)
		render.JSON(w, messageResponse{Message: "User registered successfully"})
	})
}

func handleLogin(as authService, tokens tokenTransport, l logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,max=254"`
		Password string `json:"password" validate:"required,max=1024"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := as.Login(r.Context(), data.Login, data.Password, middleware.ClientIP(r))
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		tokens.set(w, pair)
		render.JSON(w, messageResponse{Message: "User logged in successfully"})
	})
}

func handleTokenRefresh(as authService, tokens tokenTransport, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, ok := tokens.refresh(r)
		if !ok {
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			return
		}

		pair, err := as.Refresh(r.Context(), refresh)
		if err != nil {
			// Token that can't be rotated is of no use for the client
			if !errors.Is(err, apperrors.ErrService) {
				tokens.clear(w)
			}
			writeError(w, r, l, err)
			return
		}

		tokens.set(w, pair)
		render.JSON(w, messageResponse{Message: "Tokens refreshed successfully"})
	})
}

func handleLogout(as authService, tokens tokenTransport, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, ok := tokens.refresh(r)
		if !ok {
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			return
		}

		if err := as.Logout(r.Context(), refresh); err != nil {
			if !errors.Is(err, apperrors.ErrService) {
				tokens.clear(w)
			}
			writeError(w, r, l, err)
			return
		}

		tokens.clear(w)
		render.JSON(w, messageResponse{Message: "Logged out"})
	})
}

func handleLogoutAll(as authService, tokens tokenTransport, l logger.Logger) http.Handler {
	type response struct {
		Message         string `json:"message"`
		RevokedSessions int    `json:"revoked_sessions"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		n, err := as.LogoutAll(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		tokens.clear(w)
		render.JSON(w, response{Message: "Logged out everywhere", RevokedSessions: n})
	})
}

func handleChangePassword(as authService, tokens tokenTransport, l logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"current_password" validate:"required,max=1024"`
		NewPassword     string `json:"new_password" validate:"required,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = as.CheckPassword(r.Context(), user.ID, data.CurrentPassword)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			// Not 401: access token is fine, client must not try to refresh it
			render.ServiceError(w, "Current password is wrong", http.StatusForbidden)
			return
		default:
			writeError(w, r, l, err)
			return
		}

		if err := as.ChangePassword(r.Context(), user.ID, data.NewPassword); err != nil {
			writeError(w, r, l, err)
			return
		}

		// Every session is revoked together with the old password
		tokens.clear(w)
		render.JSON(w, messageResponse{Message: "Password changed, please log in again"})
	})
}
