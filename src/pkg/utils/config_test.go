package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadConfig_Defaults(t *testing.T) {
	config, err := ReadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestReadConfig_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
root: /srv/images
port: 9090
convert_timeout: 5s
watch: false
`)
	config, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/images", config.Root)
	assert.EqualValues(t, 9090, config.Port)
	assert.Equal(t, 5*time.Second, config.ConvertTimeout)
	assert.False(t, config.Watch)
	assert.Equal(t, 90, config.JPEGQuality)
	assert.Equal(t, 75, config.WebPQuality)
}

func TestReadConfig_Invalid(t *testing.T) {
	_, err := ReadConfig(writeConfig(t, "jpeg_quality: 0\nworkers: -1\nwebp_quality: 101\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jpeg_quality")
	assert.Contains(t, err.Error(), "webp_quality")
	assert.Contains(t, err.Error(), "workers")

	_, err = ReadConfig(writeConfig(t, "port: [1"))
	assert.Error(t, err)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
