package handlers

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	"github.com/nkiryanov/gopherauth/internal/service/attempt"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/passwordhistory"
	"github.com/nkiryanov/gopherauth/internal/service/revocation"
	"github.com/nkiryanov/gopherauth/internal/service/rotation"
	"github.com/nkiryanov/gopherauth/internal/service/token"
	"github.com/nkiryanov/gopherauth/internal/service/user"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

func newAuthService(t *testing.T, db postgres.DBTX) *auth.AuthService {
	t.Helper()

	l := logger.NewNoOpLogger()
	storage := postgres.NewStorage(db)
	hasher := credential.BcryptHasher{Cost: bcrypt.MinCost}

	guard, err := attempt.NewGuard(attempt.DefaultPolicy(), storage, l)
	require.NoError(t, err)
	verifier, err := credential.NewVerifier(credential.VerifierConfig{}, hasher, storage.User(), guard, l)
	require.NoError(t, err)
	history, err := passwordhistory.NewGuard(passwordhistory.DefaultSize, hasher)
	require.NoError(t, err)

	_, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := token.NewKey(private)
	require.NoError(t, err)
	issuer, err := token.NewIssuer(token.Config{RefreshTTL: 24 * time.Hour}, token.NewKeySet(key))
	require.NoError(t, err)

	registry := revocation.NewRegistry(storage, l)

	s, err := auth.NewService(auth.Config{}, auth.Deps{
		Verifier: verifier,
		Users:    user.NewService(storage, hasher, history, registry, l),
		Sessions: rotation.NewCoordinator(storage, issuer, registry, l),
		Registry: registry,
		Tokens:   issuer,
		Logger:   l,
	})
	require.NoError(t, err, "auth service starting error")

	return s
}

type client struct {
	t   *testing.T
	url string
}

type response struct {
	code    int
	body    string
	header  http.Header
	cookies []*http.Cookie
}

func (c client) post(path string, data string, headers map[string]string, cookies ...*http.Cookie) response {
	c.t.Helper()

	req, err := http.NewRequest(http.MethodPost, c.url+path, strings.NewReader(data))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	return c.do(req)
}

func (c client) get(path string, access string) response {
	c.t.Helper()

	req, err := http.NewRequest(http.MethodGet, c.url+path, nil)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", access)

	return c.do(req)
}

func (c client) do(req *http.Request) response {
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	return response{code: resp.StatusCode, body: string(body), header: resp.Header, cookies: resp.Cookies()}
}

func refreshCookie(t *testing.T, resp response) *http.Cookie {
	t.Helper()

	for _, cookie := range resp.cookies {
		if cookie.Name == "refreshtoken" {
			return cookie
		}
	}
	t.Fatalf("refresh cookie not found in response: %s", resp.body)
	return nil
}

func Test_AuthHandlers(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	const credentials = `{"login": "nk", "password": "Str0ng$Password"}`

	// Run http server with production services inside transaction
	withServer := func(t *testing.T, fn func(c client)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			srv := httptest.NewServer(NewRouter(newAuthService(t, tx), logger.NewNoOpLogger(), Config{SecureCookie: true}))
			defer srv.Close()

			fn(client{t: t, url: srv.URL})
		})
	}

	t.Run("register ok", func(t *testing.T) {
		withServer(t, func(c client) {
			resp := c.post("/api/auth/register", credentials, nil)

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"message": "User registered successfully"}`, resp.body)

			cookie := refreshCookie(t, resp)
			require.True(t, cookie.HttpOnly, "refresh cookie should be HttpOnly")
			require.True(t, cookie.Secure, "refresh cookie should be Secure")
			require.Equal(t, "/api/auth", cookie.Path, "refresh cookie should be sent to auth endpoints only")
			require.Equal(t, http.SameSiteStrictMode, cookie.SameSite, "refresh cookie should be SameSite Strict")
			require.InDelta(t, (24 * time.Hour).Seconds(), cookie.MaxAge, 2, "max age should be refresh TTL")
			require.NotEmpty(t, cookie.Value, "refresh cookie should not be empty")

			require.True(t, strings.HasPrefix(resp.header.Get("Authorization"), "Bearer "))
		})
	})

	t.Run("register duplicate", func(t *testing.T) {
		withServer(t, func(c client) {
			require.Equal(t, http.StatusOK, c.post("/api/auth/register", credentials, nil).code)

			resp := c.post("/api/auth/register", credentials, nil)

			require.Equal(t, http.StatusConflict, resp.code)
			require.JSONEq(t, `{"error": "service_error", "message": "User already exists"}`, resp.body)
		})
	})

	t.Run("register weak password", func(t *testing.T) {
		withServer(t, func(c client) {
			resp := c.post("/api/auth/register", `{"login": "nk", "password": "password"}`, nil)

			require.Equal(t, http.StatusUnprocessableEntity, resp.code)
			require.Empty(t, resp.cookies)
		})
	})

	t.Run("register invalid body", func(t *testing.T) {
		withServer(t, func(c client) {
			resp := c.post("/api/auth/register", `{"login": "n k"}`, nil)

			require.Equal(t, http.StatusBadRequest, resp.code)
			require.JSONEq(t, `{
				"error": "validation_failed",
				"message": "Request validation failed",
				"fields": {
					"login": "Must not contain spaces or control characters",
					"password": "This field is required"
				}
			}`, resp.body)
		})
	})

	t.Run("login ok", func(t *testing.T) {
		withServer(t, func(c client) {
			require.Equal(t, http.StatusOK, c.post("/api/auth/register", credentials, nil).code)

			resp := c.post("/api/auth/login", credentials, nil)

			require.Equalf(t, http.StatusOK, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"message": "User logged in successfully"}`, resp.body)
			refreshCookie(t, resp)

			me := c.get("/api/user/me", resp.header.Get("Authorization"))
			require.Equalf(t, http.StatusOK, me.code, "Body: %s", me.body)

			var user struct {
				Username string `json:"username"`
			}
			require.NoError(t, json.Unmarshal([]byte(me.body), &user))
			require.Equal(t, "nk", user.Username)
		})
	})

	t.Run("login failed", func(t *testing.T) {
		withServer(t, func(c client) {
			resp := c.post("/api/auth/login", `{"login": "nk", "password": "WrongPassword"}`, nil)

			require.Equalf(t, http.StatusUnauthorized, resp.code, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `{"error": "service_error", "message": "Invalid login or password"}`, resp.body)
			require.Empty(t, resp.cookies, "no cookies should be set on login error")
			require.Empty(t, resp.header.Get("Authorization"), "Authorization header should not be set")
		})
	})

	t.Run("login locked", func(t *testing.T) {
		withServer(t, func(c client) {
			require.Equal(t, http.StatusOK, c.post("/api/auth/register", credentials, nil).code)
			origin := map[string]string{"X-Forwarded-For": "1.2.3.4"}

			for i := 0; i < 5; i++ {
				resp := c.post("/api/auth/login", `{"login": "nk", "password": "WrongPassword"}`, origin)
				require.Equal(t, http.StatusUnauthorized, resp.code, "attempt %d", i+1)
			}

			resp := c.post("/api/auth/login", credentials, origin)

			require.Equalf(t, http.StatusLocked, resp.code, "Body: %s", resp.body)
			require.NotEmpty(t, resp.header.Get("Retry-After"))
		})
	})

	t.Run("refresh rotation and reuse", func(t *testing.T) {
		withServer(t, func(c client) {
			a := refreshCookie(t, c.post("/api/auth/register", credentials, nil))

			resp := c.post("/api/auth/refresh", "", nil, a)
			require.Equalf(t, http.StatusOK, resp.code, "Body: %s", resp.body)
			require.JSONEq(t, `{"message": "Tokens refreshed successfully"}`, resp.body)
			b := refreshCookie(t, resp)
			require.NotEqual(t, a.Value, b.Value)

			resp = c.post("/api/auth/refresh", "", nil, a)
			require.Equal(t, http.StatusUnauthorized, resp.code)
			require.JSONEq(t, `{"error": "service_error", "message": "Unauthorized"}`, resp.body)
			require.Equal(t, -1, refreshCookie(t, resp).MaxAge, "dead refresh cookie is cleared")

			resp = c.post("/api/auth/refresh", "", nil, b)
			require.Equal(t, http.StatusUnauthorized, resp.code, "family revoked after reuse")
		})
	})

	t.Run("refresh without cookie", func(t *testing.T) {
		withServer(t, func(c client) {
			resp := c.post("/api/auth/refresh", "", nil)

			require.Equal(t, http.StatusUnauthorized, resp.code)
			require.JSONEq(t, `{"error": "service_error", "message": "Refresh token not found"}`, resp.body)
		})
	})

	t.Run("logout", func(t *testing.T) {
		withServer(t, func(c client) {
			registered := c.post("/api/auth/register", credentials, nil)
			cookie := refreshCookie(t, registered)

			resp := c.post("/api/auth/logout", "", nil, cookie)
			require.Equalf(t, http.StatusOK, resp.code, "Body: %s", resp.body)
			require.Equal(t, -1, refreshCookie(t, resp).MaxAge)

			require.Equal(t, http.StatusUnauthorized, c.post("/api/auth/refresh", "", nil, cookie).code)
			require.Equal(t, http.StatusUnauthorized, c.get("/api/user/me", registered.header.Get("Authorization")).code)
		})
	})

	t.Run("logout all", func(t *testing.T) {
		withServer(t, func(c client) {
			first := c.post("/api/auth/register", credentials, nil)
			second := c.post("/api/auth/login", credentials, nil)

			resp := c.post("/api/auth/logout-all", "", map[string]string{"Authorization": second.header.Get("Authorization")})
			require.Equalf(t, http.StatusOK, resp.code, "Body: %s", resp.body)
			require.JSONEq(t, `{"message": "Logged out everywhere", "revoked_sessions": 2}`, resp.body)

			require.Equal(t, http.StatusUnauthorized, c.post("/api/auth/refresh", "", nil, refreshCookie(t, first)).code)
			require.Equal(t, http.StatusUnauthorized, c.post("/api/auth/refresh", "", nil, refreshCookie(t, second)).code)
		})
	})

	t.Run("logout all requires access token", func(t *testing.T) {
		withServer(t, func(c client) {
			resp := c.post("/api/auth/logout-all", "", nil)

			require.Equal(t, http.StatusUnauthorized, resp.code)
		})
	})

	t.Run("change password", func(t *testing.T) {
		withServer(t, func(c client) {
			registered := c.post("/api/auth/register", credentials, nil)
			access := map[string]string{"Authorization": registered.header.Get("Authorization")}

			resp := c.post("/api/auth/password", `{"current_password": "Wr0ng$Password", "new_password": "N3w$Password"}`, access)
			require.Equal(t, http.StatusForbidden, resp.code)

			resp = c.post("/api/auth/password", `{"current_password": "Str0ng$Password", "new_password": "Str0ng$Password"}`, access)
			require.Equal(t, http.StatusUnprocessableEntity, resp.code)
			require.JSONEq(t, `{"error": "service_error", "message": "Password was used recently"}`, resp.body)

			resp = c.post("/api/auth/password", `{"current_password": "Str0ng$Password", "new_password": "N3w$Password"}`, access)
			require.Equalf(t, http.StatusOK, resp.code, "Body: %s", resp.body)

			require.Equal(t, http.StatusUnauthorized, c.post("/api/auth/refresh", "", nil, refreshCookie(t, registered)).code)
			require.Equal(t, http.StatusUnauthorized, c.post("/api/auth/login", credentials, nil).code)
			require.Equal(t, http.StatusOK, c.post("/api/auth/login", `{"login": "nk", "password": "N3w$Password"}`, nil).code)
		})
	})
}
