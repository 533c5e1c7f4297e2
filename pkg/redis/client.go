package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microinsure/poolregistry/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Default stream configuration
const (
	DefaultStreamMaxLen = 10000 // Default max entries per stream
)

// Client wraps the Redis client used as a ledger backend and for
// transaction status fan-out (Pub/Sub) and journaling (Streams).
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64 // Max entries per stream (0 = unlimited)
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return Wrap(rdb, logger, streamMaxLen), nil
}

// Wrap builds a Client around an existing go-redis client without pinging it.
func Wrap(rdb *redis.Client, logger *zap.Logger, streamMaxLen int64) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: rdb, logger: logger, streamMaxLen: streamMaxLen}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Get returns the value of key and whether it exists.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set replaces the value of key with no expiry.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

// Publish publishes a message to a Redis Pub/Sub channel.
// This is best-effort: errors are logged, not returned, so fan-out
// problems never fail the operation being reported.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// PSubscribe subscribes to one or more Redis Pub/Sub channel patterns.
// The caller is responsible for closing the PubSub object when done.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.client.PSubscribe(ctx, patterns...)
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// XAdd adds an entry to a stream, capped at MAXLEN when configured.
// Best-effort like Publish: returns "" on failure.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) string {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}

	// Apply MAXLEN if configured (approximate for performance)
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		c.logger.Warn("Failed to add to Redis stream",
			zap.String("stream", stream),
			zap.Error(err))
		return ""
	}
	return id
}

// XRevRange returns up to count entries from a stream, newest first.
func (c *Client) XRevRange(ctx context.Context, stream string, count int64) ([]redis.XMessage, error) {
	return c.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
}
