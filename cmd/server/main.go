package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hongminglow/solace-be/internal/auth"
	"github.com/hongminglow/solace-be/internal/config"
	"github.com/hongminglow/solace-be/internal/logging"
	"github.com/hongminglow/solace-be/internal/mail"
	"github.com/hongminglow/solace-be/internal/server"
	"github.com/hongminglow/solace-be/internal/storage/backend"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found; relying on existing environment")
	}

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := backend.Open(connectCtx, cfg.DatabaseURL, cfg.MongoDatabase)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("close store", slog.Any("error", err))
		}
	}()

	hasher, err := auth.NewHasher(cfg.BcryptCost, cfg.HashWorkers)
	if err != nil {
		return err
	}

	var mailer mail.Gateway
	if cfg.Mail.Host != "" {
		mailer = mail.NewSMTPGateway(cfg.Mail)
		if cfg.Mail.BreakerFailures > 0 {
			mailer = mail.NewBreakerGateway(mailer, cfg.Mail.BreakerFailures, cfg.Mail.BreakerCooldown, log)
		}
	} else {
		log.Warn("SMTP_HOST not set; reset emails will only be logged")
		mailer = mail.NewLogGateway(log)
	}

	srv := server.New(cfg, server.Deps{
		Store:  store,
		Hasher: hasher,
		Resets: auth.NewResetTokens(store, hasher, cfg.ResetTokenTTL),
		Mailer: mailer,
		Log:    log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("Solace backend starting", slog.String("env", cfg.Env))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("graceful shutdown error", slog.Any("error", err))
	}
	return nil
}
