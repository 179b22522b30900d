package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parkwise/internal/config"
	"parkwise/internal/models"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps last-known predictions and shared rate-limit counters.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisCache stores keys under prefix. retention bounds how long a
// prediction stays available as a stale fallback.
func NewRedisCache(client *redis.Client, prefix string, retention time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

func (r *RedisCache) predictionKey(key string) string {
	return r.prefix + "prediction:" + key
}

// GetPrediction returns nil, nil when nothing is cached.
func (r *RedisCache) GetPrediction(ctx context.Context, key string) (*models.Prediction, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.predictionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction from redis: %w", err)
	}

	var p models.Prediction
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}
	return &p, nil
}

func (r *RedisCache) SetPrediction(ctx context.Context, key string, prediction *models.Prediction) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(prediction)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}
	if err := r.client.Set(ctx, r.predictionKey(key), data, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to set prediction in redis: %w", err)
	}
	return nil
}

// CheckRateLimit increments the counter of key and reports whether it is
// still within limit for the current window.
func (r *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	k := r.prefix + "rate_limit:" + key

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
