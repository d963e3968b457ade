package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECIPES_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, RatingsSQL, cfg.RatingsBackend)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 4.0, cfg.TopMinAverage)
	assert.Equal(t, 5, cfg.TopLimit)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
store_driver: sqlite
sqlite_path: /tmp/recipes.db
subscriber_buffer: 8
seed_demo: true
log:
  level: debug
  file: /tmp/recipes.log
`), 0o600))
	t.Setenv("RECIPES_CONFIG_FILE", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("RECIPES_TOP_LIMIT", "10")
	t.Setenv("RECIPES_TOP_MIN_AVERAGE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr, "environment wins over the file")
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/recipes.db", cfg.SQLitePath)
	assert.Equal(t, 8, cfg.SubscriberBuffer)
	assert.True(t, cfg.SeedDemo)
	assert.Equal(t, 10, cfg.TopLimit)
	assert.Equal(t, 4.0, cfg.TopMinAverage, "unparsable values fall back")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "unset file keys keep their defaults")
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("RECIPES_CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("RATINGS_BACKEND", "memcached")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("RECIPES_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
