package storage

import (
	"context"
	"fmt"

	"github.com/freekieb7/lctrelay/internal/config"
)

// New creates the storage backend selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch StorageType(cfg.Type) {
	case StorageTypeLocal, "":
		basePath := cfg.LocalPath
		if basePath == "" {
			basePath = "./data"
		}
		return NewLocalStorage(basePath)

	case StorageTypeS3:
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return nil, fmt.Errorf("S3 storage requires STORAGE_S3_BUCKET and STORAGE_S3_REGION")
		}
		return NewS3Storage(ctx, S3Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
