package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("REGISTRY_ADDR", "")
	t.Setenv("REGISTRY_DB_PATH", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "registry.db", cfg.DBPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10000, cfg.Recompute.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Recompute.Debounce)
	assert.Equal(t, 5000, cfg.Recompute.DirtyCapacity)
	assert.True(t, cfg.Recompute.ResumeOnStart)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.False(t, cfg.Backup.Enabled())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("REGISTRY_ADDR", "127.0.0.1:9000")
	t.Setenv("REGISTRY_LOG_FORMAT", "json")
	t.Setenv("REGISTRY_RECOMPUTE_BATCH_SIZE", "500")
	t.Setenv("REGISTRY_RECOMPUTE_DEBOUNCE", "250ms")
	t.Setenv("REGISTRY_RECOMPUTE_RESUME", "false")
	t.Setenv("REGISTRY_S3_BUCKET", "registry-backups")
	t.Setenv("REGISTRY_S3_ACCESS_KEY", "key")
	t.Setenv("REGISTRY_S3_SECRET_KEY", "secret")
	t.Setenv("REGISTRY_BACKUP_PASSPHRASE", "correct horse")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 500, cfg.Recompute.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Recompute.Debounce)
	assert.False(t, cfg.Recompute.ResumeOnStart)
	assert.True(t, cfg.Backup.Enabled())
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"REGISTRY_RECOMPUTE_BATCH_SIZE", "lots"},
		{"REGISTRY_RECOMPUTE_BATCH_SIZE", "0"},
		{"REGISTRY_RECOMPUTE_BATCH_SIZE", "40000"},
		{"REGISTRY_RECOMPUTE_DEBOUNCE", "soon"},
		{"REGISTRY_RECOMPUTE_RESUME", "maybe"},
		{"REGISTRY_LOG_FORMAT", "xml"},
		{"REGISTRY_QUEUE_BATCH_WORKERS", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("REGISTRY_DB_PATH=/data/from-file.db\nREGISTRY_RATE_LIMIT=7\n"), 0600))
	t.Setenv("REGISTRY_RATE_LIMIT", "9")
	// godotenv.Load sets variables in the process; clear the one it adds.
	t.Setenv("REGISTRY_DB_PATH", "")
	os.Unsetenv("REGISTRY_DB_PATH")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/from-file.db", cfg.DBPath)
	assert.Equal(t, 9, cfg.RateLimit, "environment wins over the file")
}

func TestLoadMissingEnvFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
