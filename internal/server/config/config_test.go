package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray config file
// is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "./uploads", cfg.StoragePath)
	assert.Equal(t, int64(500*MiB), cfg.MaxFileSize)
	assert.Equal(t, int64(1*GiB), cfg.MaxTotalSize)
	assert.Equal(t, 1*MiB, cfg.ChunkSize)
	assert.Equal(t, 86400, cfg.DefaultExpirySeconds)
	assert.Equal(t, 604800, cfg.MaxExpirySeconds)
	assert.Equal(t, 30*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 10.0, cfg.RateLimitPerMinute)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.EncryptionKey)
}

func TestLoad_Environment(t *testing.T) {
	inTempDir(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_PATH", "/var/lib/fileshare")
	t.Setenv("MAX_FILE_SIZE", "1024")
	t.Setenv("MAX_TOTAL_SIZE", "4096")
	t.Setenv("CLEANUP_INTERVAL", "45m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/var/lib/fileshare", cfg.StoragePath)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
	assert.Equal(t, int64(4096), cfg.MaxTotalSize)
	assert.Equal(t, 45*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, slog.LevelDebug, cfg.ParseLogLevel())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempDir(t)
	yaml := "port: \"7000\"\nmax_file_size: 2048\nmax_total_size: 8192\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fileshare.yaml"), []byte(yaml), 0644))

	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Port, "environment overrides file")
	assert.Equal(t, int64(2048), cfg.MaxFileSize)
	assert.Equal(t, int64(8192), cfg.MaxTotalSize)
}

func TestLoad_Invalid(t *testing.T) {
	inTempDir(t)
	t.Setenv("MAX_FILE_SIZE", "2048")
	t.Setenv("MAX_TOTAL_SIZE", "1024")

	_, err := Load()
	assert.ErrorContains(t, err, "max_total_size")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:                 "8000",
			StoragePath:          "./uploads",
			MaxFileSize:          10,
			MaxTotalSize:         20,
			ChunkSize:            4,
			DefaultExpirySeconds: 60,
			MaxExpirySeconds:     MaxExpirySeconds,
			CleanupInterval:      time.Minute,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"expiry over a week", func(c *Config) { c.MaxExpirySeconds = MaxExpirySeconds + 1 }},
		{"default beyond max", func(c *Config) { c.DefaultExpirySeconds = c.MaxExpirySeconds + 1 }},
		{"zero default", func(c *Config) { c.DefaultExpirySeconds = 0 }},
		{"sub-second sweep", func(c *Config) { c.CleanupInterval = time.Millisecond }},
		{"no chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative rate", func(c *Config) { c.RateLimitPerMinute = -1 }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
