// Package main runs the remittance engine daemon: REST API, background
// crank worker and the configured persistence backend.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/openremit/remit_engine/internal/app"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/httpapi"
	"github.com/openremit/remit_engine/internal/app/services/admin"
	"github.com/openremit/remit_engine/internal/app/storage/postgres"
	"github.com/openremit/remit_engine/internal/app/token"
	"github.com/openremit/remit_engine/internal/config"
	"github.com/openremit/remit_engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "remitd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/remit.yaml", "path to the YAML config file")
	envFile := flag.String("env-file", "", "optional .env file loaded before config")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		// A .env in the working directory is a convenience, not a requirement.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("component", "remitd")

	stores, closeStores, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	tokens, err := buildTokenService(cfg, log)
	if err != nil {
		return err
	}

	buffer := events.NewBuffer(cfg.Events.Buffer)
	hub := events.NewHub(log)
	sinks := events.MultiSink{buffer, hub}
	if cfg.Events.File != "" {
		fileSink, err := events.NewFileSink(cfg.Events.File)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}

	opts := app.Options{
		Self:   cfg.Engine.Self,
		Tokens: tokens,
		Sink:   sinks,
		Bootstrap: admin.BootstrapConfig{
			Owner:    cfg.Engine.Owner,
			Treasury: cfg.Engine.Treasury,
			FeeBps:   cfg.Engine.FeeBps,
			Tokens:   cfg.Engine.Tokens,
		},
	}
	if cfg.Crank.Enabled {
		opts.CrankSchedule = cfg.Crank.Schedule
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret: cfg.Server.JWTSecret,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Buffer:    buffer,
		Hub:       hub,
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(shutdownCtx); err != nil {
			log.WithError(err).Error("stop services")
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := postgres.New(db)
		if err := store.Migrate(context.Background()); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
		log.Info("using postgres storage")
		return app.Stores{
			Accounts:      store,
			Beneficiaries: store,
			Payments:      store,
			Policy:        store,
		}, func() { db.Close() }, nil

	default:
		log.Info("using in-memory storage")
		return app.Stores{}, func() {}, nil
	}
}

func buildTokenService(cfg config.Config, log *logger.Logger) (token.Service, error) {
	if cfg.Token.BridgeURL == "" {
		log.Warn("no token bridge configured; using in-process simulator")
		return token.NewSimulator(cfg.Engine.Self), nil
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return token.NewHTTPBridge(client, cfg.Token.BridgeURL, cfg.Token.APIKey, log)
}
