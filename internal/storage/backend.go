package storage

import (
	"context"
	"fmt"

	"github.com/oralvis/apiserver/config"
)

const (
	BackendCloudinary = "cloudinary"
	BackendMinio      = "minio"
	BackendS3         = "s3"
	BackendGCS        = "gcs"
)

// NewBackend builds the object storage backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case BackendCloudinary, "":
		return NewCloudinaryClient(cfg.Cloudinary)
	case BackendMinio:
		return NewMinioClient(cfg.Minio)
	case BackendS3:
		return NewS3Client(ctx, cfg.S3)
	case BackendGCS:
		return NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
