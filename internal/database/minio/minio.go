// Package minio owns the object store connection, a process-wide singleton.
package minio

import (
	"context"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docqa/internal/config"
)

var (
	client  *minio.Client
	once    sync.Once
	initErr error
)

// GetClient initializes the shared MinIO client and makes sure the
// configured bucket exists.
func GetClient(ctx context.Context, cfg *config.MinIOConfig) (*minio.Client, error) {
	once.Do(func() {
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			initErr = fmt.Errorf("connect to minio: %w", err)
			return
		}
		exists, err := c.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			initErr = fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
			return
		}
		if !exists {
			if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				initErr = fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
				return
			}
		}
		client = c
	})
	return client, initErr
}

// HealthCheck verifies the server is reachable.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("minio client is not initialized")
	}
	if _, err := client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("minio health check: %w", err)
	}
	return nil
}
