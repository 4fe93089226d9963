package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nollettan-menu/config"
	"nollettan-menu/db"
	"nollettan-menu/memstore"
	"nollettan-menu/services"
)

// backends is the storage side of the service as selected by MENU_STORE
// and CHANGE_FEED.
type backends struct {
	store     services.RecordStore
	accounts  services.AccountService
	feed      services.ChangeFeed
	announcer services.Announcer
	pinger    services.Pinger
	cache     *services.LocalCache

	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}
	switch cfg.Sync.Store {
	case "memory":
		m := memstore.New()
		b.store, b.accounts, b.pinger = m, m, m
		if cfg.Sync.ChangeFeed != "none" {
			b.feed = m
		}
		log.Warn().Msg("using in-memory store, data is lost on exit")
	case "postgres", "":
		if err := db.Init(ctx, cfg.DB); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v == "1" || strings.EqualFold(v, "true") {
			if err := applyMigrations(ctx, db.Pool, log, false); err != nil {
				b.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pg := services.NewPgStore(db.Pool)
		b.store, b.pinger = pg, pg
		b.accounts = services.NewPgAuth(db.Pool)
		if err := b.openFeed(ctx, cfg, log); err != nil {
			b.Close()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown MENU_STORE %q", cfg.Sync.Store)
	}

	if cfg.Cache.Path != "" {
		cache, err := services.OpenLocalCache(cfg.Cache.Path)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("local cache: %w", err)
		}
		b.cache = cache
		b.closers = append(b.closers, func() { _ = cache.Close() })
	}
	return b, nil
}

func (b *backends) openFeed(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	switch cfg.Sync.ChangeFeed {
	case "postgres", "":
		b.feed = services.NewPgFeed(db.Pool, log)
	case "redis":
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("CHANGE_FEED=redis needs REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		rf := services.NewRedisFeed(client, log)
		b.feed, b.announcer = rf, rf
	case "none":
	default:
		return fmt.Errorf("unknown CHANGE_FEED %q", cfg.Sync.ChangeFeed)
	}
	return nil
}

// newEngine builds the sync engine over b.
func newEngine(cfg *config.Config, b *backends, metrics *services.Metrics, notifier services.Notifier, log zerolog.Logger) *services.Engine {
	opts := services.Options{
		Store:       b.store,
		Auth:        b.accounts,
		Feed:        b.feed,
		Announcer:   b.announcer,
		CacheKey:    cfg.Cache.Key,
		Notifier:    notifier,
		Metrics:     metrics,
		Breaker:     services.NewStoreBreaker("menu_store", log, metrics),
		Logger:      log,
		SaveTimeout: cfg.Sync.SaveTimeout,
		Retry: services.RetryPolicy{
			Attempts:  cfg.Sync.SaveAttempts,
			Step:      cfg.Sync.SaveBackoff,
			Retryable: services.Retryable,
		},
		EchoWindow: cfg.Sync.EchoWindow,
		Debounce:   cfg.Sync.Debounce,
	}
	if b.cache != nil {
		opts.Cache = b.cache
	}
	return services.NewEngine(opts)
}
