// Copyright (c) 2026 Shipmecarton
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mailroom — customer service email pipeline for shipmecarton.com
//
// Entry point for the service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Builds the Gmail client, LLM client, and Telegram notifier
//  4. Runs the mail poller on an interval
//  5. Serves the admin API (health, client CRUD, manual poll, cursor reset)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
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
	"github.com/redis/go-redis/v9"

	"github.com/shipmecarton/mailroom/internal/classify"
	"github.com/shipmecarton/mailroom/internal/clients"
	"github.com/shipmecarton/mailroom/internal/config"
	"github.com/shipmecarton/mailroom/internal/dedup"
	"github.com/shipmecarton/mailroom/internal/gmail"
	"github.com/shipmecarton/mailroom/internal/history"
	"github.com/shipmecarton/mailroom/internal/notify"
	"github.com/shipmecarton/mailroom/internal/pipeline"
	"github.com/shipmecarton/mailroom/internal/poller"
	"github.com/shipmecarton/mailroom/internal/state"
	"github.com/shipmecarton/mailroom/internal/template"
	"github.com/shipmecarton/mailroom/internal/web"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailroom service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"poll_interval", cfg.PollInterval,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores (Postgres) ---
	clientStore, err := clients.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise client store", "error", err)
		os.Exit(1)
	}
	historyStore, err := history.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise history store", "error", err)
		os.Exit(1)
	}
	stateStore, err := state.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise state store", "error", err)
		os.Exit(1)
	}

	// --- Dedup Filter (Redis) ---
	filter := dedup.NewFilter(rdb)

	// --- Gmail Client ---
	mailbox, err := gmail.NewClient(ctx, cfg.Gmail, cfg.CallTimeout)
	if err != nil {
		slog.Error("failed to create gmail client", "error", err)
		os.Exit(1)
	}

	// --- LLM Client ---
	llm := classify.NewHTTPClient(cfg.LLM, cfg.CallTimeout)

	// --- Telegram Notifier ---
	notifier := notify.NewNotifier(cfg.Telegram)

	// --- Processing Pipeline ---
	engine := template.NewEngine(clientStore)
	contexts := history.NewContextBuilder(historyStore, mailbox, cfg.SearchLimit)
	proc := pipeline.New(llm, engine, historyStore, contexts, notifier)

	// --- Poller ---
	p := poller.New(mailbox, stateStore, filter, historyStore, proc, notifier, cfg.PollInterval)
	go p.Run(ctx)

	// --- Admin API ---
	handler := web.NewHandler(clientStore, p, stateStore, func(ctx context.Context) error {
		if err := pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		slog.Info("admin API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin API server failed", "error", err)
			cancel()
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin API shutdown failed", "error", err)
	}

	slog.Info("mailroom service stopped")
}
