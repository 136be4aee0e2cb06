package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupTracing(t *testing.T) {
	t.Run("disabled without endpoint", func(t *testing.T) {
		shutdown, err := SetupTracing(t.Context(), "", "gopherauth")

		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	})

	t.Run("enabled with endpoint", func(t *testing.T) {
		// Exporter connects lazily, nothing has to listen there
		shutdown, err := SetupTracing(t.Context(), "http://127.0.0.1:4318/v1/traces", "gopherauth")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		_ = shutdown(ctx)
	})
}

func TestSentry(t *testing.T) {
	require.NoError(t, InitSentry("", "test"), "empty dsn disables sentry")

	// Must not panic without client
	CaptureError(errors.New("boom"), map[string]string{"component": "test"})
	CaptureError(nil, nil)
	FlushSentry()
}
