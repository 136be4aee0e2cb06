package handlers

import (
	"net/http"
	"time"

	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	refreshCookieName = "refreshtoken"
	refreshCookiePath = "/api/auth"
)

// Puts token pair to response and reads refresh token back from request
type tokenTransport struct {
	secure bool
}

func (t tokenTransport) set(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     refreshCookiePath,
		Expires:  pair.Refresh.ExpiresAt,
		MaxAge:   int(time.Until(pair.Refresh.ExpiresAt).Seconds()),
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	w.Header().Set(middleware.AccessHeaderName, middleware.AccessAuthScheme+" "+pair.Access.Value)
}

func (t tokenTransport) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		Secure:   t.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (t tokenTransport) refresh(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
