package meteorology

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseRecordRange(t *testing.T) {
	first, last, err := parseRecordRange([]byte("Enter start\n Record range:   12   96\n"))

	require.NoError(t, err)
	assert.Equal(t, 12, first)
	assert.Equal(t, 96, last)

	_, _, err = parseRecordRange([]byte("nothing found 0 0\n"))
	assert.ErrorIs(t, err, ErrCropFailed)

	_, _, err = parseRecordRange([]byte("garbage\n"))
	assert.ErrorIs(t, err, ErrCropFailed)
}

func Test_verticalLevels_Reads_Header_Field(t *testing.T) {
	header := []byte(strings.Repeat(" ", headerLength))
	copy(header[149:152], " 40")
	path := filepath.Join(t.TempDir(), "met.arl")
	require.NoError(t, os.WriteFile(path, header, 0o600))

	levels, err := verticalLevels(path)

	require.NoError(t, err)
	assert.Equal(t, 40, levels)
}

func Test_verticalLevels_Short_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.arl")
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0o600))

	_, err := verticalLevels(path)

	assert.ErrorIs(t, err, ErrCropFailed)
}
