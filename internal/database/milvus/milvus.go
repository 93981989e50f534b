// Package milvus owns the vector database connection, a process-wide singleton.
package milvus

import (
	"context"
	"fmt"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"

	"docqa/internal/config"
)

var (
	cli     client.Client
	once    sync.Once
	initErr error
)

// GetClient initializes and returns the shared Milvus client.
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (client.Client, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{
			Address: cfg.Address,
		})
		if err != nil {
			initErr = fmt.Errorf("connect to milvus: %w", err)
			return
		}
		cli = c
	})
	return cli, initErr
}

// Close shuts down the shared client.
func Close() error {
	if cli == nil {
		return nil
	}
	return cli.Close()
}

// HealthCheck lists collections to verify the connection is alive.
func HealthCheck(ctx context.Context) error {
	if cli == nil {
		return fmt.Errorf("milvus client is not initialized")
	}
	if _, err := cli.ListCollections(ctx); err != nil {
		return fmt.Errorf("milvus health check: %w", err)
	}
	return nil
}
