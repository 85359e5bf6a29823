package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixiset/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
server_addr: ":9999"
asset_timeout: 90s
status_ttl: 30s
worker_count: 2
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ServerAddr)
	require.Equal(t, 90*time.Second, cfg.AssetTimeout.Std())
	require.Equal(t, 30*time.Second, cfg.StatusTTL.Std())
	require.Equal(t, 2, cfg.WorkerCount)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `server_addr: ":8081"`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.MaxBatchSize)
	require.Equal(t, 5*time.Minute, cfg.StatusTTL.Std())
	require.Positive(t, cfg.WorkerCount)
	require.Equal(t, "site-build-jobs", cfg.BuildJobsTopic)
}

func TestLoadParsesAccountSettings(t *testing.T) {
	path := writeConfig(t, `
account_id: "b4a1f8f2-6c31-4c6e-9d7a-3f28d5f10c44"
free_storage_bytes: 1024
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "b4a1f8f2-6c31-4c6e-9d7a-3f28d5f10c44", cfg.AccountID)
	require.Equal(t, int64(1024), cfg.FreeStorageBytes)
}

func TestLoadRejectsBadAccountID(t *testing.T) {
	path := writeConfig(t, `account_id: "not-a-uuid"`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBatchCeilingAboveFifty(t *testing.T) {
	path := writeConfig(t, `max_batch_size: 60`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `asset_timeout: soon`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
