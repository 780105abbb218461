package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdelaire/tgate/adapters/telegram"
	"github.com/jdelaire/tgate/core/downstream"
	"github.com/jdelaire/tgate/core/gateway"
	"github.com/jdelaire/tgate/core/handlers"
	"github.com/jdelaire/tgate/core/ratelimit"
	"github.com/jdelaire/tgate/core/session"
	"github.com/jdelaire/tgate/core/store"
	"github.com/jdelaire/tgate/internal/config"
)

// app is the wired pipeline shared by serve and poll.
type app struct {
	gateway  *gateway.Gateway
	telegram *telegram.Client
	store    store.Store
}

func openStore(cfg *config.Config) store.Store {
	if cfg.Store.Backend == config.BackendMemory {
		return store.NewMemory()
	}
	return store.NewRedis(store.RedisOptions{
		Addr:      cfg.Store.Redis.Addr(),
		Password:  cfg.Store.Redis.Password,
		DB:        cfg.Store.Redis.DB,
		OpTimeout: cfg.Store.OpTimeout,
	})
}

func newTelegram(cfg *config.Config) *telegram.Client {
	return telegram.New(cfg.Telegram.BotToken).WithBaseURL(cfg.Telegram.APIBaseURL)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	backend := openStore(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		// Not fatal: rate limiting fails open and sessions fall back.
		logger.Warn("store unreachable at startup", "backend", cfg.Store.Backend, "error", err)
	}

	client, err := downstream.New(cfg.DownstreamServices(), downstream.Options{
		RetryJitter: cfg.Downstream.RetryJitter,
		UserAgent:   serviceName + "/" + version,
	}, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("downstream client: %w", err)
	}

	routes, err := handlers.Routes(client, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	logger.Info("routes loaded", "commands", routes.Commands(), "actions", routes.Actions())

	tg := newTelegram(cfg)
	limiter := ratelimit.New(backend, cfg.RateLimit.Requests, cfg.RateLimit.RefillPerSecond(), logger)
	sessions := session.New(backend, cfg.Session.TTL, logger)

	return &app{
		gateway:  gateway.New(limiter, sessions, routes, tg, logger),
		telegram: tg,
		store:    backend,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
