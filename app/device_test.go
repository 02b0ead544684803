package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")

	id, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "RPI_"), "generated id %q", id)
	assert.Len(t, id, len("RPI_")+8)

	again, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.Equal(t, id, again, "identity must survive restarts")
}

func TestLoadOrCreateDeviceIDKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")
	require.NoError(t, os.WriteFile(path, []byte("RPI_LEGACY01\n"), 0o600))

	id, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.Equal(t, "RPI_LEGACY01", id)
}

func TestLoadOrCreateDeviceIDRegeneratesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	id, err := LoadOrCreateDeviceID(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "RPI_"))
}
