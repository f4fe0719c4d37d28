// Package pagecache caches rendered session list views and carries the
// "content changed" signal for a session.
//
// Every session has a version counter. Cached views are stored under the
// version current when they were read from the database, and a change
// bumps the counter, so stale views are never served once a mutation has
// been signalled. The cache is a view cache only; engagement counts are
// never read from it.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChangesChannel receives the session id of every committed mutation.
const ChangesChannel = "studyhub:content-changed"

type Cache interface {
	// Get returns the cached view and the version it must be stored back
	// under on a miss.
	Get(ctx context.Context, sessionID int64, view string) (payload []byte, version int64, hit bool, err error)
	Set(ctx context.Context, sessionID int64, view string, version int64, payload []byte) error
	ContentChanged(ctx context.Context, sessionID int64) error
}

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, prefix: "studyhub:", ttl: ttl}
}

func (c *RedisCache) versionKey(sessionID int64) string {
	return c.prefix + "pagever:" + strconv.FormatInt(sessionID, 10)
}

func (c *RedisCache) viewKey(sessionID, version int64, view string) string {
	return fmt.Sprintf("%spage:%d:v%d:%s", c.prefix, sessionID, version, view)
}

func (c *RedisCache) version(ctx context.Context, sessionID int64) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read page version: %w", err)
	}
	return version, nil
}

func (c *RedisCache) Get(ctx context.Context, sessionID int64, view string) ([]byte, int64, bool, error) {
	version, err := c.version(ctx, sessionID)
	if err != nil {
		return nil, 0, false, err
	}
	payload, err := c.client.Get(ctx, c.viewKey(sessionID, version, view)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, fmt.Errorf("read cached page: %w", err)
	}
	return payload, version, true, nil
}

func (c *RedisCache) Set(ctx context.Context, sessionID int64, view string, version int64, payload []byte) error {
	if err := c.client.Set(ctx, c.viewKey(sessionID, version, view), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached page: %w", err)
	}
	return nil
}

// ContentChanged bumps the session version and publishes the session id.
func (c *RedisCache) ContentChanged(ctx context.Context, sessionID int64) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.versionKey(sessionID))
	pipe.Publish(ctx, ChangesChannel, strconv.FormatInt(sessionID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signal content change: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Nop is used when no Redis is configured: every read misses.
type Nop struct{}

func (Nop) Get(context.Context, int64, string) ([]byte, int64, bool, error) {
	return nil, 0, false, nil
}

func (Nop) Set(context.Context, int64, string, int64, []byte) error { return nil }

func (Nop) ContentChanged(context.Context, int64) error { return nil }
