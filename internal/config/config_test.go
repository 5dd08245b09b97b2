package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "left", cfg.Table.Policy)
	assert.True(t, cfg.Table.CatchAll)
	assert.Equal(t, 4, cfg.Scan.Concurrency)
	assert.Equal(t, "local", cfg.Storage.Type)
}

func TestResolveDerivesPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/tessera"
	cfg.Resolve()

	assert.Equal(t, filepath.Join("/var/lib/tessera", "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join("/var/lib/tessera", "catalog.db"), cfg.CatalogPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty table name", func(c *Config) { c.Table.Name = "" }},
		{"bad policy", func(c *Config) { c.Table.Policy = "middle" }},
		{"no boundaries without catch-all", func(c *Config) {
			c.Table.CatchAll = false
			c.Table.Boundaries = nil
		}},
		{"bad scheme mode", func(c *Config) { c.Table.Scheme.Mode = "round_robin" }},
		{"no locations", func(c *Config) { c.Table.Scheme.Locations = nil }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"zero concurrency", func(c *Config) { c.Scan.Concurrency = 0 }},
		{"excessive concurrency", func(c *Config) { c.Scan.Concurrency = 128 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.yaml")
	content := `
data_dir: /tmp/tessera-test
table:
  name: orders
  policy: right
  catch_all: false
  boundaries: ["2023-01-01", "2024-01-01"]
  scheme:
    mode: per_partition
    locations: [alpha, beta, gamma]
scan:
  concurrency: 8
aggregate:
  refresh_interval: 90s
storage:
  type: s3
  s3:
    bucket: tessera-checkpoints
    region: eu-west-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "orders", cfg.Table.Name)
	assert.Equal(t, "right", cfg.Table.Policy)
	assert.False(t, cfg.Table.CatchAll)
	assert.Equal(t, []string{"2023-01-01", "2024-01-01"}, cfg.Table.Boundaries)
	assert.Equal(t, "per_partition", cfg.Table.Scheme.Mode)
	assert.Equal(t, 8, cfg.Scan.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Aggregate.RefreshInterval)
	assert.Equal(t, "tessera-checkpoints", cfg.Storage.S3.Bucket)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadFromFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TESSERA_DATA_DIR", "/tmp/env-test")
	t.Setenv("TESSERA_TABLE_NAME", "metrics")
	t.Setenv("TESSERA_TABLE_POLICY", "right")
	t.Setenv("TESSERA_TABLE_CATCH_ALL", "false")
	t.Setenv("TESSERA_TABLE_BOUNDARIES", "2024-01-01,2025-01-01")
	t.Setenv("TESSERA_HTTP_ADDR", ":9090")
	t.Setenv("TESSERA_SCAN_CONCURRENCY", "16")
	t.Setenv("TESSERA_AGGREGATE_REFRESH_INTERVAL", "2m")
	t.Setenv("TESSERA_S3_BUCKET", "env-bucket")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/tmp/env-test", cfg.DataDir)
	assert.Equal(t, "metrics", cfg.Table.Name)
	assert.Equal(t, "right", cfg.Table.Policy)
	assert.False(t, cfg.Table.CatchAll)
	assert.Equal(t, []string{"2024-01-01", "2025-01-01"}, cfg.Table.Boundaries)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 16, cfg.Scan.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Aggregate.RefreshInterval)
	assert.Equal(t, "env-bucket", cfg.Storage.S3.Bucket)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.DataDir)
	assert.DirExists(t, cfg.Storage.Path)
}
