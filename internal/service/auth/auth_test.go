package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	"github.com/nkiryanov/gopherauth/internal/service/attempt"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/passwordhistory"
	"github.com/nkiryanov/gopherauth/internal/service/revocation"
	"github.com/nkiryanov/gopherauth/internal/service/rotation"
	"github.com/nkiryanov/gopherauth/internal/service/token"
	"github.com/nkiryanov/gopherauth/internal/service/user"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

type stack struct {
	auth   *AuthService
	users  *user.UserService
	issuer *token.Issuer
}

func newStack(t *testing.T, db postgres.DBTX) stack {
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
	issuer, err := token.NewIssuer(token.Config{Issuer: "test"}, token.NewKeySet(key))
	require.NoError(t, err)

	registry := revocation.NewRegistry(storage, l)
	users := user.NewService(storage, hasher, history, registry, l)
	sessions := rotation.NewCoordinator(storage, issuer, registry, l)

	s, err := NewService(Config{}, Deps{
		Verifier: verifier,
		Users:    users,
		Sessions: sessions,
		Registry: registry,
		Tokens:   issuer,
		Logger:   l,
	})
	require.NoError(t, err, "auth service could't be started")

	return stack{auth: s, users: users, issuer: issuer}
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	const (
		username = "user@example.com"
		password = "Sup3r$ecret"
		origin   = "1.2.3.4"
	)

	withTx := func(t *testing.T, fn func(st stack)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(newStack(t, tx))
		})
	}

	t.Run("new auth service requires deps", func(t *testing.T) {
		_, err := NewService(Config{}, Deps{})

		require.Error(t, err)
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			withTx(t, func(st stack) {
				pair, err := st.auth.Register(t.Context(), username, password)

				require.NoError(t, err, "registering new user should be ok")
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")

				claims, err := st.issuer.ParseRefresh(pair.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, 0, claims.Generation)
			})
		})

		t.Run("fail if user exists", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err, "no error has should happen if user not exists")

				_, err = st.auth.Register(t.Context(), username, "0ther$Ecret")

				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})

		t.Run("fail if password weak", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, "pwd")

				require.ErrorIs(t, err, apperrors.ErrPasswordPolicy)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("login ok", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err)

				pair, err := st.auth.Login(t.Context(), username, password, origin)
				require.NoError(t, err)

				claims, err := st.issuer.ParseRefresh(pair.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, 0, claims.Generation, "fresh family at generation 0")

				u, err := st.auth.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err)
				require.Equal(t, username, u.Username)
			})
		})

		t.Run("wrong password and unknown user look the same", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err)

				_, wrongPassword := st.auth.Login(t.Context(), username, "Wr0ng$ecret", origin)
				_, unknownUser := st.auth.Login(t.Context(), "nobody@example.com", password, origin)

				require.ErrorIs(t, wrongPassword, apperrors.ErrInvalidCredentials)
				require.ErrorIs(t, unknownUser, apperrors.ErrInvalidCredentials)
				require.Equal(t, wrongPassword.Error(), unknownUser.Error())
			})
		})

		t.Run("locked after five failures", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err)

				for i := 0; i < 5; i++ {
					_, err := st.auth.Login(t.Context(), username, "Wr0ng$ecret", origin)
					require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "attempt %d", i+1)
				}

				_, err = st.auth.Login(t.Context(), username, password, origin)
				require.ErrorIs(t, err, apperrors.ErrAccountLocked)

				retry, ok := apperrors.RetryAfter(err)
				require.True(t, ok)
				require.Greater(t, retry, time.Duration(0))

				// Other origin is not affected
				_, err = st.auth.Login(t.Context(), username, password, "5.6.7.8")
				require.NoError(t, err)
			})
		})

		t.Run("success resets counter", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err)

				for round := 0; round < 2; round++ {
					for i := 0; i < 4; i++ {
						_, err := st.auth.Login(t.Context(), username, "Wr0ng$ecret", origin)
						require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
					}
					_, err := st.auth.Login(t.Context(), username, password, origin)
					require.NoError(t, err, "round %d", round)
				}
			})
		})

		t.Run("disabled account", func(t *testing.T) {
			withTx(t, func(st stack) {
				pair, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err)
				u, err := st.auth.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err)

				require.NoError(t, st.users.SetStatus(t.Context(), u.ID, false, false))

				_, err = st.auth.Login(t.Context(), username, password, origin)
				require.ErrorIs(t, err, apperrors.ErrAccountDisabled)

				_, err = st.auth.Authenticate(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrAccountDisabled)
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotation and reuse", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Register(t.Context(), username, password)
				require.NoError(t, err)

				a, err := st.auth.Login(t.Context(), username, password, origin)
				require.NoError(t, err)

				b, err := st.auth.Refresh(t.Context(), a.Refresh.Value)
				require.NoError(t, err)
				claims, err := st.issuer.ParseRefresh(b.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, 1, claims.Generation)

				_, err = st.auth.Refresh(t.Context(), a.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)

				_, err = st.auth.Refresh(t.Context(), b.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenRevoked)

				// Access tokens of revoked family are rejected too
				_, err = st.auth.Authenticate(t.Context(), b.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			})
		})

		t.Run("garbage token", func(t *testing.T) {
			withTx(t, func(st stack) {
				_, err := st.auth.Refresh(t.Context(), "garbage")

				require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		withTx(t, func(st stack) {
			pair, err := st.auth.Register(t.Context(), username, password)
			require.NoError(t, err)
			other, err := st.auth.Login(t.Context(), username, password, origin)
			require.NoError(t, err)

			require.NoError(t, st.auth.Logout(t.Context(), pair.Refresh.Value))

			_, err = st.auth.Refresh(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			_, err = st.auth.Authenticate(t.Context(), pair.Access.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked)

			// Other session survives
			_, err = st.auth.Authenticate(t.Context(), other.Access.Value)
			require.NoError(t, err)
			_, err = st.auth.Refresh(t.Context(), other.Refresh.Value)
			require.NoError(t, err)
		})
	})

	t.Run("LogoutAll", func(t *testing.T) {
		withTx(t, func(st stack) {
			first, err := st.auth.Register(t.Context(), username, password)
			require.NoError(t, err)
			second, err := st.auth.Login(t.Context(), username, password, origin)
			require.NoError(t, err)

			u, err := st.auth.Authenticate(t.Context(), first.Access.Value)
			require.NoError(t, err)

			n, err := st.auth.LogoutAll(t.Context(), u.ID)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			for _, pair := range []string{first.Refresh.Value, second.Refresh.Value} {
				_, err = st.auth.Refresh(t.Context(), pair)
				require.ErrorIs(t, err, apperrors.ErrTokenRevoked)
			}
		})
	})

	t.Run("ChangePassword", func(t *testing.T) {
		withTx(t, func(st stack) {
			pair, err := st.auth.Register(t.Context(), username, password)
			require.NoError(t, err)
			u, err := st.auth.Authenticate(t.Context(), pair.Access.Value)
			require.NoError(t, err)

			require.ErrorIs(t, st.auth.CheckPassword(t.Context(), u.ID, "Wr0ng$ecret"), apperrors.ErrInvalidCredentials)
			require.NoError(t, st.auth.CheckPassword(t.Context(), u.ID, password))

			err = st.auth.ChangePassword(t.Context(), u.ID, password)
			require.ErrorIs(t, err, apperrors.ErrPasswordReused)

			err = st.auth.ChangePassword(t.Context(), u.ID, "N3w$ecret!")
			require.NoError(t, err)

			_, err = st.auth.Refresh(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenRevoked, "sessions are revoked on password change")

			_, err = st.auth.Login(t.Context(), username, password, origin)
			require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

			_, err = st.auth.Login(t.Context(), username, "N3w$ecret!", origin)
			require.NoError(t, err)
		})
	})
}
