package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/service/attempt"
	"github.com/nkiryanov/gopherauth/internal/service/credential"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultTokenIssuer      = "gopherauth"
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 30 * 24 * time.Hour
	defaultSigningTimeout   = 2 * time.Second
	defaultHistorySize      = 5
	defaultOperationTimeout = 10 * time.Second
	defaultSweepInterval    = 10 * time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string `env:"LOG_LEVEL"`

	// Address on which the service will be run
	ListenAddr string `env:"RUN_ADDRESS"`

	// Database to connect to
	DatabaseDSN string `env:"DATABASE_URI"`

	// Environment: 'dev' or 'prod'
	Environment string `env:"ENVIRONMENT"`

	// PEM file with private key tokens signed with
	SigningKeyFile string `env:"SIGNING_KEY_FILE"`

	// Token 'iss' claim and lifetimes
	TokenIssuer    string        `env:"TOKEN_ISSUER"`
	AccessTTL      time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTTL     time.Duration `env:"REFRESH_TOKEN_TTL"`
	SigningTimeout time.Duration `env:"SIGNING_TIMEOUT"`

	// Login attempts policy
	LockoutThreshold   int           `env:"LOCKOUT_THRESHOLD"`
	LockoutWindow      time.Duration `env:"LOCKOUT_WINDOW"`
	LockoutCooldown    time.Duration `env:"LOCKOUT_COOLDOWN"`
	LockoutCooldownCap time.Duration `env:"LOCKOUT_COOLDOWN_CAP"`
	OriginLimit        int           `env:"ORIGIN_LIMIT"`
	OriginWindow       time.Duration `env:"ORIGIN_WINDOW"`

	// Number of previous passwords that can't be reused
	HistorySize int `env:"PASSWORD_HISTORY_SIZE"`

	// Password hashing algorithm for new hashes: 'bcrypt' or 'argon2id'
	Hasher string `env:"PASSWORD_HASHER"`

	RequireVerified  bool          `env:"REQUIRE_VERIFIED"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL"`

	// Observability. Empty values disable the integration
	SentryDSN    string `env:"SENTRY_DSN"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	// Send refresh cookie only over https
	SecureCookie bool `env:"SECURE_COOKIE"`

	// Proxies (CIDR or address) whose X-Forwarded-For is believed. Empty: origin is the peer address
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

func NewConfig() *Config {
	policy := attempt.DefaultPolicy()

	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		Environment:        defaultEnvironment,
		TokenIssuer:        defaultTokenIssuer,
		AccessTTL:          defaultAccessTTL,
		RefreshTTL:         defaultRefreshTTL,
		SigningTimeout:     defaultSigningTimeout,
		LockoutThreshold:   policy.Threshold,
		LockoutWindow:      policy.Window,
		LockoutCooldown:    policy.Cooldown,
		LockoutCooldownCap: policy.CooldownCap,
		OriginLimit:        policy.OriginLimit,
		OriginWindow:       policy.OriginWindow,
		HistorySize:        defaultHistorySize,
		Hasher:             credential.HasherBcrypt,
		OperationTimeout:   defaultOperationTimeout,
		SweepInterval:      defaultSweepInterval,
		SecureCookie:       true,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.loadEnvMap(envMap)
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// LoadEnv takes variables in os.Environ form. Variables not set keep current values
func (c *Config) LoadEnv(environ []string) error {
	envMap := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			envMap[key] = value
		}
	}
	return c.loadEnvMap(envMap)
}

func (c *Config) loadEnvMap(envMap map[string]string) error {
	// Empty values do not override
	for key, value := range envMap {
		if value == "" {
			delete(envMap, key)
		}
	}

	if err := env.ParseWithOptions(c, env.Options{Environment: envMap}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gopherauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SigningKeyFile, "signing-key", "k", c.SigningKeyFile, "PEM file with token signing private key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	fs.StringVar(&c.TokenIssuer, "issuer", c.TokenIssuer, "Token issuer name")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.SigningTimeout, "signing-timeout", c.SigningTimeout, "Max time to sign token pair")

	fs.IntVar(&c.LockoutThreshold, "lockout-threshold", c.LockoutThreshold, "Failed attempts before lockout")
	fs.DurationVar(&c.LockoutWindow, "lockout-window", c.LockoutWindow, "Window failed attempts counted in")
	fs.DurationVar(&c.LockoutCooldown, "lockout-cooldown", c.LockoutCooldown, "First lockout duration")
	fs.DurationVar(&c.LockoutCooldownCap, "lockout-cooldown-cap", c.LockoutCooldownCap, "Max lockout duration")
	fs.IntVar(&c.OriginLimit, "origin-limit", c.OriginLimit, "Login attempts allowed per origin (0 disables)")
	fs.DurationVar(&c.OriginWindow, "origin-window", c.OriginWindow, "Window origin attempts counted in")

	fs.IntVar(&c.HistorySize, "history-size", c.HistorySize, "Previous passwords that can't be reused")
	fs.StringVar(&c.Hasher, "hasher", c.Hasher, "Password hasher (bcrypt, argon2id)")
	fs.BoolVar(&c.RequireVerified, "require-verified", c.RequireVerified, "Reject login of not verified users")
	fs.DurationVar(&c.OperationTimeout, "operation-timeout", c.OperationTimeout, "Max duration of one auth operation")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "How often expired records are pruned")

	fs.StringVar(&c.SentryDSN, "sentry-dsn", c.SentryDSN, "Sentry DSN")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", c.OTLPEndpoint, "OTLP HTTP traces endpoint")
	fs.BoolVar(&c.SecureCookie, "secure-cookie", c.SecureCookie, "Send refresh cookie over https only")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxy", c.TrustedProxies, "Proxy CIDR allowed to set X-Forwarded-For (repeatable)")

	return fs.Parse(args)
}

// Policy assembled from lockout options
func (c *Config) AttemptPolicy() attempt.Policy {
	return attempt.Policy{
		Threshold:    c.LockoutThreshold,
		Window:       c.LockoutWindow,
		Cooldown:     c.LockoutCooldown,
		CooldownCap:  c.LockoutCooldownCap,
		OriginLimit:  c.OriginLimit,
		OriginWindow: c.OriginWindow,
	}
}
