package studioflow

import (
	"time"

	"github.com/davidroman0O/studioflow/internal/capability"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type studioflowConfig struct {
	path        *string
	destructive bool
	logger      Logger

	workers  int
	adapters *capability.Adapters
	notifier notify.Dispatcher

	redis       redis.UniversalClient
	redisPrefix string
	redisTTL    time.Duration

	registry *prometheus.Registry

	retryInterval    time.Duration
	retryMaxInterval time.Duration
}

// Option configures New.
type Option func(*studioflowConfig)

func WithLogger(logger Logger) Option {
	return func(c *studioflowConfig) {
		c.logger = logger
	}
}

// WithSQLite keeps everything in a SQLite file at path.
func WithSQLite(path string) Option {
	return func(c *studioflowConfig) {
		c.path = &path
	}
}

func WithMemory() Option {
	return func(c *studioflowConfig) {
		c.path = nil
	}
}

// WithDestructive removes the SQLite file before opening it.
func WithDestructive() Option {
	return func(c *studioflowConfig) {
		c.destructive = true
	}
}

func WithWorkers(n int) Option {
	return func(c *studioflowConfig) {
		c.workers = n
	}
}

func WithAdapters(adapters capability.Adapters) Option {
	return func(c *studioflowConfig) {
		c.adapters = &adapters
	}
}

func WithNotifier(d notify.Dispatcher) Option {
	return func(c *studioflowConfig) {
		c.notifier = d
	}
}

// WithRedisGuard shares trigger claims through Redis, keys expire after ttl.
func WithRedisGuard(client redis.UniversalClient, ttl time.Duration) Option {
	return func(c *studioflowConfig) {
		c.redis = client
		c.redisTTL = ttl
	}
}

func WithRedisPrefix(prefix string) Option {
	return func(c *studioflowConfig) {
		c.redisPrefix = prefix
	}
}

func WithMetrics(registry *prometheus.Registry) Option {
	return func(c *studioflowConfig) {
		c.registry = registry
	}
}

// WithRetryInterval sets the first delay between attempts and its cap.
func WithRetryInterval(initial, max time.Duration) Option {
	return func(c *studioflowConfig) {
		c.retryInterval = initial
		c.retryMaxInterval = max
	}
}
