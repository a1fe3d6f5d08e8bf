// Command demosut starts the bundled demo SUT, a small shoe donation store
// that the harness can be pointed at with --env local.
// Usage: go run ./cmd/demosut [--port 9090] [--settle 2s] [--json-only]
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/probekit/internal/demosut"
	"github.com/raysh454/probekit/internal/logging"
)

func main() {
	cfg := demosut.DefaultConfig()
	flag.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flag.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "delay before a new API session is accepted")
	flag.BoolVar(&cfg.CallbackJSONOnly, "json-only", cfg.CallbackJSONOnly, "reject form-encoded credential callbacks with 415")
	flag.IntVar(&cfg.CartLimit, "cart-limit", cfg.CartLimit, "maximum items per cart")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.AdminEmail = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}

	logger := logging.New(os.Stderr, "console", *logLevel).With(logging.Field{Key: "component", Value: "demosut"})

	srv, err := demosut.NewServer(cfg, logger)
	if err != nil {
		logger.Error("starting demo SUT", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
	defer srv.Close()

	httpSrv := srv.HTTPServer()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("demo SUT listening",
		logging.Field{Key: "addr", Value: "http://localhost" + httpSrv.Addr},
		logging.Field{Key: "admin", Value: cfg.AdminEmail})
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
}
