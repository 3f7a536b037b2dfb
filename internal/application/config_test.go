package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), config)
	assert.NotEmpty(t, config.Database.DSN)
	assert.Equal(t, "127.0.0.1:8080", config.HTTP.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dsn: postgres://ci@db:5432/valuerun
providers:
  eodhd_api_key: key-123
metrics:
  staleness_days: 180
`), 0o644))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://ci@db:5432/valuerun", config.Database.DSN)
	assert.Equal(t, "key-123", config.Providers.EODHDAPIKey)
	assert.Equal(t, 180, config.Metrics.StalenessDays)
	// Untouched sections keep their defaults.
	assert.Equal(t, "data/fx", config.Data.FXDir)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dsn: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
