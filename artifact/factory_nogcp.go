//go:build !gcp

package artifact

import (
	"context"
	"errors"
)

// ErrGCSDisabled is returned when the binary was built without the gcp tag.
var ErrGCSDisabled = errors.New("GCS storage is not enabled in this build (use -tags gcp)")

func newGCSStore(_ context.Context, _ Config) (Store, error) {
	return nil, ErrGCSDisabled
}
