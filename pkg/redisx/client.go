package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/pkg/config"
	"github.com/danghamo/docidentity/pkg/logger"
)

// Client wraps redis.Client with connection checks and round-trip logging
type Client struct {
	*redis.Client
	url    string
	logger *logger.Logger
}

// ClientOption represents an option for creating a new Redis client
type ClientOption func(*redis.Options)

// WithPoolSize overrides the connection pool size from the URL
func WithPoolSize(size int) ClientOption {
	return func(o *redis.Options) {
		if size > 0 {
			o.PoolSize = size
		}
	}
}

// WithMaxRetries overrides the per-command retry budget
func WithMaxRetries(n int) ClientOption {
	return func(o *redis.Options) {
		o.MaxRetries = n
	}
}

// WithTimeouts sets dial, read and write timeouts; zero values keep the defaults
func WithTimeouts(dial, read, write time.Duration) ClientOption {
	return func(o *redis.Options) {
		if dial > 0 {
			o.DialTimeout = dial
		}
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

// NewClient creates a new Redis client from URL with options
func NewClient(redisURL string, log *logger.Logger, opts ...ClientOption) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	for _, opt := range opts {
		opt(redisOptions)
	}

	client := &Client{
		Client: redis.NewClient(redisOptions),
		url:    redisURL,
		logger: log.WithComponent("redisx"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client.logger.Info("Redis client connected successfully",
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.Int("pool_size", redisOptions.PoolSize),
	)

	return client, nil
}

// NewClientFromConfig creates a new Redis client from the redis config section
func NewClientFromConfig(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	return NewClient(cfg.URL, log,
		WithPoolSize(cfg.PoolSize),
		WithMaxRetries(cfg.MaxRetries),
		WithTimeouts(cfg.DialTimeout, cfg.ReadTimeout, cfg.WriteTimeout),
	)
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck performs a health check on the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Redis health check failed",
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return err
	}

	c.logger.Debug("Redis health check passed",
		zap.Duration("duration", duration),
	)

	return nil
}

// Observe logs one finished round trip: Debug on success or redis.Nil, Error otherwise
func (c *Client) Observe(op string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Duration("duration", time.Since(start)))

	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Error("Redis operation failed", append(fields, zap.Error(err))...)
		return
	}
	c.logger.Debug("Redis operation", fields...)
}

// URL returns the connection URL the client was built from
func (c *Client) URL() string {
	return c.url
}
