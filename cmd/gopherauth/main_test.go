package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/service/token"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

func Test_run(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)

	keyPEM, err := token.GenerateKeyPEM(token.AlgEdDSA)
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	// Empty working dir so developer's .env never leaks into test
	getwd := func() (string, error) { return t.TempDir(), nil }

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, nil, getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--environment", "dev",
			"--database", pg.DSN,
			"--signing-key", keyFile,
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("stop with srv error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		// Try to run without signing key. Must fail
		err := run(ctx, nil, getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--database", pg.DSN,
		})

		require.Error(t, err, "on incorrect stop should return error")
	})

	t.Run("env used when flag not set", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, []string{"SIGNING_KEY_FILE=" + keyFile, "DATABASE_URI=" + pg.DSN}, getwd, []string{
			"--address", listenAddr,
			"--environment", "dev",
		})

		require.NoError(t, err)
	})
}
