package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/gopherauth/internal/db"
	"github.com/nkiryanov/gopherauth/internal/handlers"
	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/observability"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	"github.com/nkiryanov/gopherauth/internal/service/attempt"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
	"github.com/nkiryanov/gopherauth/internal/service/passwordhistory"
	"github.com/nkiryanov/gopherauth/internal/service/revocation"
	"github.com/nkiryanov/gopherauth/internal/service/rotation"
	"github.com/nkiryanov/gopherauth/internal/service/sweeper"
	"github.com/nkiryanov/gopherauth/internal/service/token"
	"github.com/nkiryanov/gopherauth/internal/service/user"
)

const (
	serviceName     = "gopherauth"
	shutdownTimeout = 5 * time.Second
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Sweeper    *sweeper.Sweeper
	Logger     logger.Logger

	// Release resources in reverse order they were acquired
	closers []func(context.Context) error
}

func NewServerApp(ctx context.Context, c *Config) (app *ServerApp, err error) {
	app = &ServerApp{ListenAddr: c.ListenAddr}
	defer func() {
		if err != nil && app != nil {
			app.Close()
		}
	}()

	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	app.Logger = log

	// Reporting and tracing are optional: empty DSN and endpoint keep them off
	if err := observability.InitSentry(c.SentryDSN, c.Environment); err != nil {
		return app, fmt.Errorf("error while initializing sentry: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error {
		observability.FlushSentry()
		return nil
	})

	shutdownTracing, err := observability.SetupTracing(ctx, c.OTLPEndpoint, serviceName)
	if err != nil {
		return app, fmt.Errorf("error while initializing tracing: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	// Signing key is required: without it tokens can't be issued
	if c.SigningKeyFile == "" {
		return app, errors.New("signing key file is not set")
	}
	key, err := token.LoadKeyFile(c.SigningKeyFile)
	if err != nil {
		return app, fmt.Errorf("error while loading signing key: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return app, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	hasher, err := credential.NewHasher(c.Hasher)
	if err != nil {
		return app, err
	}

	guard, err := attempt.NewGuard(c.AttemptPolicy(), storage, log.With("component", "attempt"))
	if err != nil {
		return app, fmt.Errorf("error while creating attempt guard: %w", err)
	}

	verifier, err := credential.NewVerifier(
		credential.VerifierConfig{RequireVerified: c.RequireVerified},
		hasher,
		storage.User(),
		guard,
		log.With("component", "verifier"),
	)
	if err != nil {
		return app, fmt.Errorf("error while creating credential verifier: %w", err)
	}

	history, err := passwordhistory.NewGuard(c.HistorySize, hasher)
	if err != nil {
		return app, fmt.Errorf("error while creating password history guard: %w", err)
	}

	issuer, err := token.NewIssuer(token.Config{
		Issuer:         c.TokenIssuer,
		AccessTTL:      c.AccessTTL,
		RefreshTTL:     c.RefreshTTL,
		SigningTimeout: c.SigningTimeout,
	}, token.NewKeySet(key))
	if err != nil {
		return app, fmt.Errorf("error while creating token issuer: %w", err)
	}

	registry := revocation.NewRegistry(storage, log.With("component", "revocation"))
	coordinator := rotation.NewCoordinator(storage, issuer, registry, log.With("component", "rotation"))
	userService := user.NewService(storage, hasher, history, registry, log.With("component", "user"))

	authService, err := auth.NewService(auth.Config{OperationTimeout: c.OperationTimeout}, auth.Deps{
		Verifier: verifier,
		Users:    userService,
		Sessions: coordinator,
		Registry: registry,
		Tokens:   issuer,
		Logger:   log.With("component", "auth"),
	})
	if err != nil {
		return app, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.Sweeper, err = sweeper.New(
		sweeper.Config{Interval: c.SweepInterval},
		log,
		sweeper.Task{Name: "revocations", Prune: registry.Prune},
		sweeper.Task{Name: "refresh_tokens", Prune: coordinator.Prune},
		sweeper.Task{Name: "login_attempts", Prune: guard.Prune},
	)
	if err != nil {
		return app, fmt.Errorf("error while creating sweeper: %w", err)
	}

	trustedProxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return app, err
	}

	app.Handler = handlers.NewRouter(authService, log, handlers.Config{
		SecureCookie:   c.SecureCookie,
		TrustedProxies: trustedProxies,
	})

	return app, nil
}

// Run starts http server and sweeper; closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperDone := s.Sweeper.Run(srvCtx)

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperDone

	return err
}

// Close releases database pool and flushes telemetry
func (s *ServerApp) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && s.Logger != nil {
			s.Logger.Error("Error while releasing resources", "error", err.Error())
		}
	}
	s.closers = nil
}
