package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, 32, cfg.NameServer.MaxStorageServers)
	require.Equal(t, 4096, cfg.NameServer.IndexBuckets)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dfs.yaml")
	content := `
logging:
  level: debug
  format: json
  output: stdout
nameserver:
  addr: "0.0.0.0:9999"
  users_file: "users.txt"
  data_dir: "."
  max_storage_servers: 8
  index_buckets: 1024
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "0.0.0.0:9999", cfg.NameServer.Addr)
	require.Equal(t, 8, cfg.NameServer.MaxStorageServers)
}

func TestLoadRejectsInvalidLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dfs.yaml")
	content := `
logging:
  level: NOISY
  format: text
  output: stdout
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dfs.yaml")

	cfg := DefaultConfig()
	cfg.NameServer.Addr = "0.0.0.0:8080"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", loaded.NameServer.Addr)
}
