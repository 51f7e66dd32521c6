package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/SearchForge/internal/adapter/jsonl"
	sfnats "github.com/Strob0t/SearchForge/internal/adapter/nats"
	"github.com/Strob0t/SearchForge/internal/adapter/natskv"
	"github.com/Strob0t/SearchForge/internal/adapter/postgres"
	sfredis "github.com/Strob0t/SearchForge/internal/adapter/redis"
	sfristretto "github.com/Strob0t/SearchForge/internal/adapter/ristretto"
	"github.com/Strob0t/SearchForge/internal/adapter/tiered"
	"github.com/Strob0t/SearchForge/internal/config"
	"github.com/Strob0t/SearchForge/internal/port/cache"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
)

const redisKeyPrefix = "searchforge:"

// openEventStore opens the configured durable event log. A nil store means
// the log is disabled.
func openEventStore(ctx context.Context, cfg *config.Config) (eventstore.Store, func(), error) {
	switch cfg.EventLog.Backend {
	case "jsonl":
		s, err := jsonl.NewEventStore(cfg.EventLog.Dir)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("event log opened", "backend", "jsonl", "dir", s.Dir())
		return s, func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("event log opened", "backend", "postgres")
		return postgres.NewEventStore(pool), pool.Close, nil
	default:
		slog.Warn("durable event log disabled")
		return nil, func() {}, nil
	}
}

// openResultCache builds the L1 cache and, when configured, tiers it over
// a shared L2. The L1 is also returned for its stats.
func openResultCache(ctx context.Context, cfg *config.Config, queue *sfnats.Queue) (cache.Cache, *sfristretto.Cache, func(), error) {
	l1, err := sfristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("l1: %w", err)
	}

	switch cfg.Cache.L2 {
	case "nats":
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			l1.Close()
			return nil, nil, nil, fmt.Errorf("l2: %w", err)
		}
		slog.Info("result cache", "l1_mb", cfg.Cache.L1MaxSizeMB, "l2", "nats", "bucket", cfg.Cache.L2Bucket)
		return tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL), l1, l1.Close, nil
	case "redis":
		rc, err := sfredis.Connect(ctx, cfg.Cache.RedisURL, redisKeyPrefix)
		if err != nil {
			l1.Close()
			return nil, nil, nil, fmt.Errorf("l2: %w", err)
		}
		slog.Info("result cache", "l1_mb", cfg.Cache.L1MaxSizeMB, "l2", "redis")
		closeAll := func() {
			l1.Close()
			if err := rc.Close(); err != nil {
				slog.Warn("redis close", "error", err)
			}
		}
		return tiered.New(l1, rc, cfg.Cache.L2TTL), l1, closeAll, nil
	default:
		slog.Info("result cache", "l1_mb", cfg.Cache.L1MaxSizeMB, "l2", "none")
		return l1, l1, l1.Close, nil
	}
}
