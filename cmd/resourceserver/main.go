// Command resourceserver runs the protected resource endpoint: it
// validates an inbound bearer token (and, if configured, a DPoP proof)
// against the authorization service before serving sample data.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/delegationauth/core/internal/config"
	"github.com/delegationauth/core/internal/resourceserver"
	"github.com/delegationauth/core/pkg/dpop"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	var verifier *dpop.Verifier
	if requireDPoP() {
		verifier = dpop.NewVerifier(dpop.Freshness)
	}

	introspectURL := "http://" + trimBindHost(cfg.AuthBind) + "/introspect"
	if v := os.Getenv("DELEGATIONAUTH_INTROSPECT_URL"); v != "" {
		introspectURL = v
	}

	srv := resourceserver.New(introspectURL, verifier, logger)
	runHTTPServer(logger, cfg.ResourceBind, srv.NewRouter())
}

func requireDPoP() bool {
	return os.Getenv("DELEGATIONAUTH_REQUIRE_DPOP") == "true"
}

// trimBindHost turns a listen address like ":8080" into "localhost:8080"
// for use as the authorization service's own host when introspecting.
func trimBindHost(bind string) string {
	if len(bind) > 0 && bind[0] == ':' {
		return "localhost" + bind
	}
	return bind
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
	logger.Infof("resourceserver listening on %s", addr)

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
