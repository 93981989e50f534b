// Package mongo owns the chunk store connection, a process-wide singleton.
package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa/internal/config"
)

var (
	client  *mongo.Client
	once    sync.Once
	initErr error
)

// GetClient initializes and returns the shared MongoDB client. The
// connection is established and pinged exactly once per process.
func GetClient(cfg *config.MongoConfig) (*mongo.Client, error) {
	once.Do(func() {
		clientOptions := options.Client().ApplyURI(cfg.Address)
		if cfg.Username != "" && cfg.Password != "" {
			clientOptions.SetAuth(options.Credential{
				Username: cfg.Username,
				Password: cfg.Password,
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			initErr = fmt.Errorf("connect to mongodb: %w", err)
			return
		}
		if err = c.Ping(ctx, nil); err != nil {
			initErr = fmt.Errorf("ping mongodb: %w", err)
			return
		}
		client = c
	})
	return client, initErr
}

// Close disconnects the shared client.
func Close(ctx context.Context) error {
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// HealthCheck pings the server.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("mongodb client is not initialized")
	}
	return client.Ping(ctx, nil)
}
