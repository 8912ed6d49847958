// Package artifact stores opaque blobs addressed by key: cropped meteorology, trajectories
// and footprints. Backends are the local filesystem, S3 and Google Cloud Storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned by Get when no blob is stored under the key.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned for empty keys and keys escaping the store's root.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store is a key-addressed blob store.
//
// Put replaces any blob stored under the same key. Keys are slash-separated and relative.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}

	return nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir, creating the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

// Put writes data to a temporary file and renames it into place.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmpPath := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for readable blob files
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}

	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path) //nolint:gosec // path is validated against traversal
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return data, err
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	return nil
}
