package meteorology

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
)

// Archive downloads raw meteorology files into a local directory.
type Archive interface {
	Fetch(ctx context.Context, keys []string, dir string) ([]string, error)
}

// BlobArchive reads raw files from an artifact store pointed at the meteorology bucket.
type BlobArchive struct {
	store artifact.Store
}

// NewBlobArchive returns an archive backed by store.
func NewBlobArchive(store artifact.Store) *BlobArchive {
	return &BlobArchive{store: store}
}

// Fetch writes each key to dir under its base name and returns the local paths in key order.
func (a *BlobArchive) Fetch(ctx context.Context, keys []string, dir string) ([]string, error) {
	paths := make([]string, 0, len(keys))

	for _, key := range keys {
		data, err := a.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetch meteorology %s: %w", key, err)
		}

		local := filepath.Join(dir, path.Base(key))
		//nolint:gosec // G306: 0644 is intentional for readable meteorology files
		if err := os.WriteFile(local, data, 0644); err != nil {
			return nil, fmt.Errorf("write meteorology %s: %w", local, err)
		}

		paths = append(paths, local)
	}

	return paths, nil
}
