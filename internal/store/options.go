package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Option configures New.
type Option func(*config)

type config struct {
	sqlitePath  string
	redisClient *redis.Client
	redisTTL    time.Duration
	logger      *slog.Logger
}

// WithSQLitePath sets the database file of the sqlite driver.
func WithSQLitePath(path string) Option {
	return func(c *config) {
		c.sqlitePath = path
	}
}

// WithRedisClient sets the client of the redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(c *config) {
		c.redisClient = client
	}
}

// WithRedisTTL expires idle conversation logs. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.redisTTL = ttl
	}
}

// WithLogger sets the logger used by the driver.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates the ConversationStore for driver.
func New(driver Driver, opts ...Option) (ConversationStore, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	switch driver {
	case DriverSQLite:
		if cfg.sqlitePath == "" {
			return nil, fmt.Errorf("sqlite needs a path: %w", ErrInvalidConfig)
		}
		return NewSQLite(cfg.sqlitePath, cfg.logger)
	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, fmt.Errorf("redis needs a client: %w", ErrInvalidConfig)
		}
		return NewRedis(cfg.redisClient, cfg.redisTTL), nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}
