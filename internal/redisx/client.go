// Package redisx wraps the Redis client and the stream helpers used for
// event ingestion.
package redisx

import (
	"context"

	"github.com/go-redis/redis/v8"

	"wisefido-notify/internal/config"
)

// NewClient creates a Redis client from config.
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
