//go:build !gcp

package artifact_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
)

func Test_New_Reports_Disabled_GCS(t *testing.T) {
	_, err := artifact.New(context.Background(), artifact.Config{Driver: artifact.DriverGCS, Bucket: "b"})

	assert.ErrorIs(t, err, artifact.ErrGCSDisabled)
}
