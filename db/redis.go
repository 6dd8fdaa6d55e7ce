package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tremorwatch/models"
)

// RedisBaselineCache keeps the latest baseline snapshot in Redis so a
// restarted service can warm up without touching the database.
type RedisBaselineCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisBaselineCache(addr, password string, database int, prefix string) (*RedisBaselineCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to Redis at %s: %w", addr, err)
	}

	return &RedisBaselineCache{client: client, prefix: prefix}, nil
}

// WithTTL expires cached snapshots after ttl; zero keeps them forever.
func (c *RedisBaselineCache) WithTTL(ttl time.Duration) *RedisBaselineCache {
	c.ttl = ttl
	return c
}

func (c *RedisBaselineCache) key() string {
	return c.prefix + ":baseline"
}

func (c *RedisBaselineCache) SaveBaseline(snapshot models.BaselineSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("error marshaling baseline: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, c.key(), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("error caching baseline: %w", err)
	}
	return nil
}

func (c *RedisBaselineCache) LoadBaseline() (models.BaselineSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := c.client.Get(ctx, c.key()).Bytes()
	if err == redis.Nil {
		return models.BaselineSnapshot{}, false, nil
	}
	if err != nil {
		return models.BaselineSnapshot{}, false, fmt.Errorf("error reading cached baseline: %w", err)
	}
	var snapshot models.BaselineSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return models.BaselineSnapshot{}, false, fmt.Errorf("error unmarshaling cached baseline: %w", err)
	}
	return snapshot, true, nil
}

func (c *RedisBaselineCache) Close() error {
	return c.client.Close()
}
