package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
)

func handleUserMe() http.Handler {
	type response struct {
		ID                uuid.UUID `json:"id"`
		Username          string    `json:"username"`
		Verified          bool      `json:"verified"`
		CreatedAt         time.Time `json:"created_at"`
		PasswordChangedAt time.Time `json:"password_changed_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{
			ID:                user.ID,
			Username:          user.Username,
			Verified:          user.Verified,
			CreatedAt:         user.CreatedAt,
			PasswordChangedAt: user.PasswordChangedAt,
		})
	})
}
