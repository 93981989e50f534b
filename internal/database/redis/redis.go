// Package redis owns the lock store connection, a process-wide singleton.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"docqa/internal/config"
)

var (
	client  *redis.Client
	once    sync.Once
	initErr error
)

// GetClient initializes and returns the shared Redis client.
func GetClient(cfg *config.RedisConfig) (*redis.Client, error) {
	once.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			initErr = fmt.Errorf("connect to redis: %w", err)
			return
		}
		client = rdb
	})
	return client, initErr
}

// Close shuts down the shared client.
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// HealthCheck pings the server.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return client.Ping(ctx).Err()
}
