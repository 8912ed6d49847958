package artifact

import (
	"context"
	"errors"
	"fmt"
)

// Driver selects an artifact storage backend.
type Driver string

const (
	DriverFS  Driver = "fs"
	DriverS3  Driver = "s3"
	DriverGCS Driver = "gcs"
)

// ErrMissingBucket is returned when a bucket backend is selected without a bucket.
var ErrMissingBucket = errors.New("artifact bucket is required")

// Config selects and configures a backend.
type Config struct {
	Driver     Driver
	Dir        string
	Bucket     string
	Prefix     string
	S3Region   string
	S3Endpoint string
}

// New creates the store selected by cfg.Driver, defaulting to the filesystem.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFS, "":
		return NewFileStore(cfg.Dir)
	case DriverS3:
		if cfg.Bucket == "" {
			return nil, ErrMissingBucket
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.Prefix,
		})
	case DriverGCS:
		if cfg.Bucket == "" {
			return nil, ErrMissingBucket
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact driver: %s", cfg.Driver)
	}
}
