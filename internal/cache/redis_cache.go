package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cajaflow/backend/internal/domain"
)

type RedisOrderResponseCache struct {
	client *redis.Client
}

func NewRedisOrderResponseCache(addr string, password string, db int) *RedisOrderResponseCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisOrderResponseCache{client: client}
}

func (c *RedisOrderResponseCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisOrderResponseCache) Close() error {
	return c.client.Close()
}

func (c *RedisOrderResponseCache) Get(ctx context.Context, key string) (*domain.OrderResponse, bool, error) {
	val, err := c.client.Get(ctx, "idem:order:"+key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.OrderResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisOrderResponseCache) Set(ctx context.Context, key string, value *domain.OrderResponse, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "idem:order:"+key, payload, ttl).Err()
}
