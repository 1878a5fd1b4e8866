// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Command inspirastockd runs the reference sync backend: Postgres-backed
// row storage per user, the batched stock and currency procedures, and
// ranked product search, all behind JWT bearer auth.
//
// Configuration comes from INSPIRA_* environment variables (a .env file
// is honored when present):
//
//	INSPIRA_ADDR          listen address, default :8080
//	INSPIRA_DATABASE_URL  Postgres DSN (required)
//	INSPIRA_REDIS_ADDR    Redis address for the search cache (optional)
//	INSPIRA_CACHE_TTL     search cache TTL, default 5m
//	INSPIRA_JWT_SECRET    HMAC secret for bearer tokens (required)
//	INSPIRA_LOG_LEVEL     slog level, default INFO
//
// "inspirastockd token <user-id> <device-id>" mints a bearer token for
// manual testing against a running instance.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/backend"
)

type config struct {
	Addr        string        `envconfig:"ADDR" default:":8080"`
	DatabaseURL string        `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr   string        `envconfig:"REDIS_ADDR"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	JWTSecret   string        `envconfig:"JWT_SECRET" required:"true"`
	LogLevel    slog.Level    `envconfig:"LOG_LEVEL" default:"INFO"`
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	var cfg config
	if err := envconfig.Process("inspira", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("backend exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()

	var cache *backend.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		cache = backend.NewCache(rdb, cfg.CacheTTL, logger)
		logger.Info("search cache enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	svc, err := backend.New(ctx, pool, cache, logger)
	if err != nil {
		return err
	}

	handlers := backend.NewHandlers(svc, backend.NewJWTAuth(cfg.JWTSecret), logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("backend listening", "addr", cfg.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// mintToken prints a bearer token for manual testing. It only needs the
// JWT secret, not the full server configuration.
func mintToken(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: inspirastockd token <user-id> <device-id>")
	}
	secret := os.Getenv("INSPIRA_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("INSPIRA_JWT_SECRET is not set")
	}
	token, err := backend.NewJWTAuth(secret).GenerateToken(args[0], args[1], 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
