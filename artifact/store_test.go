package artifact_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/artifact"
)

func Test_FileStore_Put_Get_Exists_Delete(t *testing.T) {
	ctx := context.Background()
	s, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := "by-simulation-id/abc/footprint.nc"

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Put(ctx, key, []byte("first")))
	require.NoError(t, s.Put(ctx, key, []byte("second")))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	exists, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func Test_FileStore_Rejects_Keys_Escaping_The_Root(t *testing.T) {
	s, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b"} {
		assert.ErrorIs(t, s.Put(context.Background(), key, []byte("x")), artifact.ErrInvalidKey, key)
	}
}

func Test_New_Selects_Backend(t *testing.T) {
	ctx := context.Background()

	s, err := artifact.New(ctx, artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &artifact.FileStore{}, s)

	_, err = artifact.New(ctx, artifact.Config{Driver: artifact.DriverS3})
	assert.ErrorIs(t, err, artifact.ErrMissingBucket)

	_, err = artifact.New(ctx, artifact.Config{Driver: artifact.DriverGCS})
	assert.ErrorIs(t, err, artifact.ErrMissingBucket)

	_, err = artifact.New(ctx, artifact.Config{Driver: "ftp"})
	assert.Error(t, err)
}
