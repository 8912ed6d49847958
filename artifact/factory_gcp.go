//go:build gcp

package artifact

import (
	"context"
)

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
