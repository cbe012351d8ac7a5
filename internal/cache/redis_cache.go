package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"scanpos/backend/internal/domain"
)

type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(addr string, password string, db int) *RedisProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductCache{client: client}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func cacheKey(scanCode string) string {
	return "product:scan:" + scanCode
}

func (c *RedisProductCache) Get(ctx context.Context, scanCode string) (*domain.Product, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(scanCode)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisProductCache) Set(ctx context.Context, scanCode string, product *domain.Product, ttl time.Duration) error {
	if product == nil {
		return nil
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(scanCode), payload, ttl).Err()
}

func (c *RedisProductCache) Invalidate(ctx context.Context, scanCodes ...string) error {
	if len(scanCodes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(scanCodes))
	for _, code := range scanCodes {
		keys = append(keys, cacheKey(code))
	}
	return c.client.Del(ctx, keys...).Err()
}
