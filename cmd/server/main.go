// Package main runs the gift ledger server: the public JSON API, the
// operational listener, and the background jobs.
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

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/merryworks/magicledger/internal/app"
	"github.com/merryworks/magicledger/internal/app/httpapi"
	"github.com/merryworks/magicledger/internal/app/ops"
	"github.com/merryworks/magicledger/internal/app/services/payments"
	"github.com/merryworks/magicledger/internal/app/storage/postgres"
	"github.com/merryworks/magicledger/internal/config"
	"github.com/merryworks/magicledger/internal/platform/migrations"
	"github.com/merryworks/magicledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file overriding the environment")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: "server",
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		stores app.Stores
		pinger ops.Pinger
	)
	if cfg.DatabaseURL != "" {
		db, err := sqlx.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			return err
		}

		if err := migrations.Apply(db.DB); err != nil {
			return err
		}
		log.Info("database migrations applied")

		store := postgres.New(db)
		stores = app.Stores{Parents: store, Children: store, Votes: store, Gifts: store}
		pinger = db
	} else {
		log.Warn("no DATABASE_URL configured, running with in-memory storage")
	}

	var deliveries payments.Registry
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		deliveries = payments.NewRedisRegistry(client, 0)
		log.WithField("addr", cfg.RedisAddr).Info("redis delivery registry enabled")
	}

	application, err := app.New(stores, app.Options{
		AuthSecret:        cfg.AuthSecret,
		TokenTTL:          cfg.TokenTTL,
		Deliveries:        deliveries,
		PendingMaxAge:     cfg.PendingMaxAge,
		ExpiryInterval:    cfg.ExpiryInterval,
		ReconcileSchedule: cfg.ReconcileSchedule,
	}, log)
	if err != nil {
		return err
	}

	if err := application.Attach(ops.NewServer(cfg.OpsAddr, pinger, log)); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Config{
		AdminTokens:           cfg.AdminTokens,
		DonationRatePerSecond: cfg.DonationRatePerSecond,
		DonationBurst:         cfg.DonationBurst,
		AuditFile:             cfg.AuditFile,
		AuditSize:             cfg.AuditSize,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("api shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop error")
	}

	log.Info("server stopped")
	return nil
}
