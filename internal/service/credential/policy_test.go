package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

func TestCheckStrength(t *testing.T) {
	t.Run("strong", func(t *testing.T) {
		for _, password := range []string{"Sup3r$ecret", "Correct horse 1", "Пароль-ok1A"} {
			require.NoError(t, CheckStrength(password), password)
		}
	})

	t.Run("weak", func(t *testing.T) {
		tests := []struct {
			name     string
			password string
			reason   string
		}{
			{"empty", "", "at least 8"},
			{"short", "Ab1$", "at least 8"},
			{"long", "Ab1$" + strings.Repeat("x", MaxPasswordLen), "must not exceed"},
			{"common", "Password123", "too common"},
			{"no upper", "sup3r$ecret", "uppercase"},
			{"no lower", "SUP3R$ECRET", "lowercase"},
			{"no digit", "Super$ecret", "number"},
			{"no special", "Sup3rSecret", "special"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := CheckStrength(tt.password)

				require.ErrorIs(t, err, apperrors.ErrPasswordPolicy)
				require.ErrorContains(t, err, tt.reason)
			})
		}
	})
}
