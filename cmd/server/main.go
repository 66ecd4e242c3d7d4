// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/socialgraph/internal/app"
	"github.com/jason-s-yu/socialgraph/internal/auth"
	"github.com/jason-s-yu/socialgraph/internal/config"
	"github.com/jason-s-yu/socialgraph/internal/handlers"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer a.Close()

	issuer, err := newIssuer(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	var presence handlers.PresenceTracker
	if a.Presence != nil {
		presence = a.Presence
	}
	api := handlers.NewAPIServer(a.Engine, a.Users, issuer, presence, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func newIssuer(cfg *config.Config) (*auth.Issuer, error) {
	ttl, err := auth.ParseTokenTTL(cfg.TokenExpire)
	if err != nil {
		return nil, err
	}
	if cfg.JWTPrivateKeyFile != "" {
		return auth.NewIssuerFromFiles(cfg.JWTPrivateKeyFile, cfg.JWTPublicKeyFile, ttl)
	}
	return auth.NewIssuer(ttl)
}
