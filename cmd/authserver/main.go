// Command authserver runs the authorization service: agent/user
// registration, the authorize/callback/token exchange, revocation and
// introspection.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/delegationauth/core/internal/authserver"
	"github.com/delegationauth/core/internal/config"
	"github.com/delegationauth/core/internal/oidcadapter"
	"github.com/delegationauth/core/internal/secrets"
	"github.com/delegationauth/core/internal/tracing"
	"github.com/delegationauth/core/pkg/engine"
	"github.com/delegationauth/core/pkg/signer"
	"github.com/delegationauth/core/pkg/store"
	"github.com/delegationauth/core/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	secretSource, err := secrets.NewSource(cfg.VaultAddr, cfg.VaultMount)
	if err != nil {
		exitRuntime(logger, "secrets: %v", err)
	}
	jwtSecret := secrets.ResolveJWTSecret(context.Background(), secretSource, cfg.JWTSecret)

	sgn, err := signer.New([]byte(jwtSecret), signer.HS256)
	if err != nil {
		exitRuntime(logger, "signer: %v", err)
	}

	st, closeStore := newStore(cfg, logger)
	if closeStore != nil {
		defer closeStore()
	}

	tp, err := tracing.NewTracerProvider(tracing.Config{
		ServiceName:    "delegationauth-authserver",
		ServiceVersion: "0.1.0",
		Environment:    envOrDefault("DELEGATIONAUTH_ENV", "development"),
	})
	if err != nil {
		exitRuntime(logger, "tracing: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warnf("tracing shutdown: %v", err)
		}
	}()

	eng := engine.New(st, sgn, engine.Config{
		Issuer:        "delegationauth",
		DelegationTTL: cfg.DelegationTokenTTL,
		AccessTTL:     cfg.AccessTokenTTL,
	}, tp.Tracer())

	var oidc *oidcadapter.Adapter
	if cfg.OIDCEnabled() {
		oidc = oidcadapter.New(oidcadapter.Config{
			IssuerURL:    cfg.OIDCIssuerURL,
			Realm:        cfg.OIDCRealm,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURI:  cfg.OIDCRedirectURI,
		}, []byte(jwtSecret))
	}

	srv := authserver.New(st, eng, oidc, logger, cfg)
	runHTTPServer(logger, cfg.AuthBind, srv.NewRouter())
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func newStore(cfg config.Config, logger *logrus.Logger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		return store.NewMemoryStore(), nil
	}
	pg, err := postgres.New(postgres.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		exitRuntime(logger, "postgres: %v", err)
	}
	return pg, func() { pg.Close() }
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// exitRuntime logs a runtime failure (as opposed to a configuration
// failure at startup) and exits with code 2, per the documented exit
// code contract: 0 clean, 1 configuration error, 2 runtime failure.
func exitRuntime(logger *logrus.Logger, format string, args ...interface{}) {
	logger.Errorf(format, args...)
	os.Exit(2)
}

func runHTTPServer(logger *logrus.Logger, addr string, handler http.Handler) {
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			exitRuntime(logger, "server: %v", err)
		}
	}()
	logger.Infof("authserver listening on %s", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		exitRuntime(logger, "forced shutdown: %v", err)
	}
	logger.Info("exited")
}
