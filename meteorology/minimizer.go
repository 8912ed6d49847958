package meteorology

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

// Minimizer produces the reduced meteorology for one envelope.
type Minimizer struct {
	archive Archive
	cropper Cropper
	tempDir string
}

// MinimizerOption configures a Minimizer.
type MinimizerOption func(*Minimizer)

// WithTempDir sets the parent of the per-call scratch directories.
func WithTempDir(dir string) MinimizerOption {
	return func(m *Minimizer) {
		m.tempDir = dir
	}
}

// NewMinimizer creates a Minimizer.
func NewMinimizer(archive Archive, cropper Cropper, opts ...MinimizerOption) *Minimizer {
	m := &Minimizer{archive: archive, cropper: cropper}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Minimize fetches the model's files covering env and returns them cropped to env.
func (m *Minimizer) Minimize(ctx context.Context, model string, env core.Envelope) ([]byte, error) {
	source, err := SourceFor(model)
	if err != nil {
		return nil, err
	}

	if err := CheckCoverage(source, env); err != nil {
		return nil, err
	}

	keys, err := source.Keys(env.Start, env.End)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(m.tempDir, "meteorology-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	inputs, err := m.archive.Fetch(ctx, keys, dir)
	if err != nil {
		return nil, err
	}

	output := filepath.Join(dir, "minimized.arl")
	if err := m.cropper.Crop(ctx, inputs, output, env); err != nil {
		return nil, fmt.Errorf("crop %d files: %w", len(inputs), err)
	}

	return os.ReadFile(output)
}
