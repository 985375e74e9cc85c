// Package redisutil wires the Redis client used by the single-instance
// lock and the bulk-invalidation stream.
package redisutil

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/bionicpro/reports-etl/internal/config"
)

// NewClient creates a go-redis client from the given config.
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies connectivity.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
