package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/internal/config"
	"github.com/xraph/fanout/queue"
	jsqueue "github.com/xraph/fanout/queue/jetstream"
	memqueue "github.com/xraph/fanout/queue/memory"
	redisqueue "github.com/xraph/fanout/queue/redis"
	"github.com/xraph/fanout/ratelimit"
	"github.com/xraph/fanout/store"
	memstore "github.com/xraph/fanout/store/memory"
	redisstore "github.com/xraph/fanout/store/redis"
	sqlitestore "github.com/xraph/fanout/store/sqlite"
)

// backends holds the external connections shared by the store, the queue and
// the limiter.
type backends struct {
	redis goredis.UniversalClient
	nats  *nats.Conn
	js    jetstream.JetStream

	// storeOwnsRedis is set once a redis store has taken the client.
	storeOwnsRedis bool
}

func (b *backends) needsRedis(cfg *config.Config) bool {
	return cfg.Store.Driver == "redis" || cfg.Queue.Backend == "redis" || cfg.RateLimit.Backend == "redis"
}

// connect dials Redis and NATS only when a configured component uses them.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if b.needsRedis(cfg) {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b.redis = goredis.NewClient(opts)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to redis", "addr", opts.Addr)
	}

	if cfg.Queue.Backend == "jetstream" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("fanoutd"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		b.nats = nc

		js, err := jetstream.New(nc)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("create jetstream context: %w", err)
		}
		b.js = js
		logger.Info("connected to nats", "url", cfg.NATS.URL)
	}

	return b, nil
}

// close releases connections not owned by a store.
func (b *backends) close() {
	if b.nats != nil {
		b.nats.Drain() //nolint:errcheck // best effort on shutdown
	}
	if b.redis != nil && !b.storeOwnsRedis {
		b.redis.Close() //nolint:errcheck // best effort on shutdown
	}
}

func (b *backends) openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "redis":
		b.storeOwnsRedis = true
		return redisstore.New(b.redis), nil
	case "sqlite":
		sdb := sqlitedriver.New()
		if err := sdb.Open(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.Store.DSN, err)
		}
		db, err := grove.Open(sdb)
		if err != nil {
			sdb.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("open grove: %w", err)
		}
		return sqlitestore.New(db), nil
	default:
		return memstore.New(), nil
	}
}

func (b *backends) queueFactory(ctx context.Context, cfg *config.Config) fanout.QueueFactory {
	switch cfg.Queue.Backend {
	case "redis":
		return func(opts ...queue.Option) (queue.Queue, error) {
			return redisqueue.New(b.redis, cfg.Queue.Prefix, opts...), nil
		}
	case "jetstream":
		return func(opts ...queue.Option) (queue.Queue, error) {
			jsCfg := jsqueue.DefaultConfig()
			jsCfg.Stream = cfg.NATS.Stream
			jsCfg.Subject = cfg.NATS.Subject
			jsCfg.Consumer = cfg.NATS.Consumer
			return jsqueue.New(ctx, b.js, jsCfg, opts...)
		}
	default:
		return func(opts ...queue.Option) (queue.Queue, error) {
			return memqueue.New(opts...), nil
		}
	}
}

// limiter returns nil for the memory backend so Fanout builds and owns one.
func (b *backends) limiter(cfg *config.Config) ratelimit.Limiter {
	if cfg.RateLimit.Backend == "redis" {
		return ratelimit.NewRedis(b.redis)
	}
	return nil
}
