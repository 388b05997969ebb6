package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/CalmLexi/karin-plugin-manage/pkg/errors"
)

// RedisCache реализация SessionCache на Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает новый экземпляр RedisCache
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get возвращает значение ключа
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to get cache key")
	}
	return value, nil
}

// Set записывает значение с TTL
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to set cache key")
	}
	return nil
}

// Del удаляет ключ
func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to delete cache key")
	}
	return nil
}

// Expire устанавливает ключу новый TTL
func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrStoreUnavailable, "failed to set cache key ttl")
	}
	return nil
}
