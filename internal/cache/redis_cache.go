package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tileview/internal/tile"
)

const redisOpTimeout = 5 * time.Second

// RedisCache stores tiles in Redis. Eviction is left to the server's
// maxmemory policy and the per-key TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

func NewRedisCache(cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisCache(client, cfg, logger), nil
}

func newRedisCache(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tile"
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With(zap.String("tier", "redis")),
	}
}

func (c *RedisCache) keyFor(k tile.Coordinate) string {
	return fmt.Sprintf("%s:%d:%d:%d", c.prefix, k.Zoom, k.X, k.Y)
}

func (c *RedisCache) Get(key tile.Coordinate) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.keyFor(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Redis get failed", zap.Stringer("tile", key), zap.Error(err))
		}
		return nil, false
	}

	// Reads refresh the TTL so hot tiles stay resident.
	if err := c.client.Expire(ctx, c.keyFor(key), c.ttl).Err(); err != nil {
		c.logger.Debug("Redis expire failed", zap.Stringer("tile", key), zap.Error(err))
	}
	return data, true
}

func (c *RedisCache) Put(key tile.Coordinate, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.keyFor(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+":*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			c.deleteKeys(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		c.deleteKeys(ctx, batch)
	}
	if err := iter.Err(); err != nil {
		c.logger.Debug("Redis clear failed", zap.Error(err))
	}
}

func (c *RedisCache) deleteKeys(ctx context.Context, keys []string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Debug("Redis delete failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
