// Package config loads fanoutd settings from defaults, an optional YAML file
// and FANOUT_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/queue"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Store     StoreConfig     `mapstructure:"store"`
	Queue     QueueConfig     `mapstructure:"queue"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Prefix          string        `mapstructure:"prefix"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Stream   string `mapstructure:"stream"`
	Subject  string `mapstructure:"subject"`
	Consumer string `mapstructure:"consumer"`
}

// StoreConfig selects the persistence backend. Driver is memory, redis or
// sqlite; DSN is the database file for sqlite.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// QueueConfig selects the job queue. Backend is memory, redis or jetstream.
type QueueConfig struct {
	Backend     string        `mapstructure:"backend"`
	Prefix      string        `mapstructure:"prefix"`
	Lease       time.Duration `mapstructure:"lease"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// RateLimitConfig configures the per-account sliding window. Backend is
// memory or redis.
type RateLimitConfig struct {
	Max      int           `mapstructure:"max"`
	Window   time.Duration `mapstructure:"window"`
	FailOpen bool          `mapstructure:"fail_open"`
	Backend  string        `mapstructure:"backend"`
}

type DispatchConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	FanoutConcurrency int           `mapstructure:"fanout_concurrency"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	DestinationRPS    float64       `mapstructure:"destination_rps"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
}

type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	DestinationTTL time.Duration `mapstructure:"destination_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.prefix", "/api")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "FANOUT_EVENTS")
	v.SetDefault("nats.subject", "fanout.events")
	v.SetDefault("nats.consumer", "fanout-dispatch")
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.dsn", "fanout.db")
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.prefix", "bp:events")
	v.SetDefault("queue.lease", queue.DefaultLease.String())
	v.SetDefault("queue.max_attempts", queue.DefaultRetryPolicy().MaxAttempts)
	v.SetDefault("queue.base_delay", queue.DefaultRetryPolicy().BaseDelay.String())
	v.SetDefault("ratelimit.max", 5)
	v.SetDefault("ratelimit.window", "1000ms")
	v.SetDefault("ratelimit.fail_open", true)
	v.SetDefault("ratelimit.backend", "redis")
	v.SetDefault("dispatch.concurrency", 10)
	v.SetDefault("dispatch.fanout_concurrency", 8)
	v.SetDefault("dispatch.request_timeout", "10s")
	v.SetDefault("dispatch.destination_rps", 0)
	v.SetDefault("dispatch.poll_interval", "250ms")
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.destination_ttl", "0s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fanout")
	}

	// Environment variables override, e.g. FANOUT_RATELIMIT_MAX
	v.SetEnvPrefix("FANOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects unknown backend names and non-positive limits.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "sqlite":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Queue.Backend {
	case "memory", "redis", "jetstream":
	default:
		return fmt.Errorf("config: unknown queue.backend %q", c.Queue.Backend)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown ratelimit.backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: ratelimit.max and ratelimit.window must be positive")
	}
	return nil
}

// Fanout maps the daemon settings onto the library configuration.
func (c *Config) Fanout() fanout.Config {
	cfg := fanout.DefaultConfig()
	cfg.RateLimit = c.RateLimit.Max
	cfg.RateWindow = c.RateLimit.Window
	cfg.FailOpen = c.RateLimit.FailOpen
	cfg.CacheTTL = c.Cache.TTL
	cfg.DestinationCacheTTL = c.Cache.DestinationTTL
	cfg.Retry = queue.RetryPolicy{
		MaxAttempts: c.Queue.MaxAttempts,
		BaseDelay:   c.Queue.BaseDelay,
	}
	cfg.Lease = c.Queue.Lease
	cfg.Concurrency = c.Dispatch.Concurrency
	cfg.PollInterval = c.Dispatch.PollInterval
	cfg.BatchSize = c.Dispatch.BatchSize
	cfg.FanoutConcurrency = c.Dispatch.FanoutConcurrency
	cfg.RequestTimeout = c.Dispatch.RequestTimeout
	cfg.DestinationRPS = c.Dispatch.DestinationRPS
	cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	return cfg
}
