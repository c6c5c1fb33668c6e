package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.True(t, cfg.EnumerationProtection)
	assert.False(t, cfg.GoogleEnabled())
	assert.False(t, cfg.MediaEnabled())
	assert.Equal(t, int64(50<<20), cfg.MediaMaxBytes)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "socialcore.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
HTTP_ADDR: ":9090"
STORE_DRIVER: mongodb
MONGO_URI: mongodb://db:27017
S3_BUCKET: media
RESET_TOKEN_TTL: 15m
`), 0o600))

	t.Setenv("SOCIAL_HTTP_ADDR", ":7070")
	t.Setenv("SOCIAL_GOOGLE_CLIENT_ID", "client-id")

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, StoreMongoDB, cfg.StoreDriver)
	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI)
	assert.Equal(t, 15*time.Minute, cfg.ResetTokenTTL)
	assert.True(t, cfg.GoogleEnabled())
	assert.True(t, cfg.MediaEnabled())
}

func TestLoadConfig_Invalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SOCIAL_STORE_DRIVER", "postgres")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown STORE_DRIVER")
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_BoltPathExpandsHome(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SOCIAL_STORE_DRIVER", StoreBolt)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".socialcore", "socialcore.db"), cfg.BoltPath)

	cfg.BoltPath = ""
	assert.Error(t, cfg.Validate())
}
