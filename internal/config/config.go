// Package config provides unified configuration for the Tessera service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for the Tessera service.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Table configuration (partition function and scheme)
	Table TableConfig `json:"table" yaml:"table"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Scan configuration
	Scan ScanConfig `json:"scan" yaml:"scan"`

	// Aggregate cache configuration
	Aggregate AggregateConfig `json:"aggregate" yaml:"aggregate"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// TableConfig describes the partitioned table to serve: its boundary
// list, tie-break policy, and partition placement scheme.
type TableConfig struct {
	// Name is the table name, used in checkpoint object paths
	Name string `json:"name" yaml:"name"`

	// Policy is the boundary tie-break policy: left, right
	Policy string `json:"policy" yaml:"policy"`

	// CatchAll controls whether a final unbounded partition exists
	CatchAll bool `json:"catch_all" yaml:"catch_all"`

	// Boundaries are the initial boundary dates, "YYYY-MM-DD", ascending
	Boundaries []string `json:"boundaries" yaml:"boundaries"`

	// Scheme configures partition placement
	Scheme SchemeConfig `json:"scheme" yaml:"scheme"`
}

// SchemeConfig configures how partitions map to storage locations.
type SchemeConfig struct {
	// Mode is the placement mode: single, per_partition, hash
	Mode string `json:"mode" yaml:"mode"`

	// Locations are the storage location names. single mode uses the
	// first; per_partition mode assigns in order with surplus entries
	// queued for future splits; hash mode treats them as buckets.
	Locations []string `json:"locations" yaml:"locations"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// ScanConfig holds range scan configuration.
type ScanConfig struct {
	// Concurrency is the number of partitions scanned in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// AggregateConfig holds aggregate cache configuration.
type AggregateConfig struct {
	// RefreshInterval is the interval between background refreshes.
	// Zero disables the background refresher.
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`

	// Persist controls whether computed entries are written to the catalog
	Persist bool `json:"persist" yaml:"persist"`
}

// StorageConfig holds checkpoint storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/tessera",
		Table: TableConfig{
			Name:     "events",
			Policy:   "left",
			CatchAll: true,
			Scheme: SchemeConfig{
				Mode:      "single",
				Locations: []string{"primary"},
			},
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Scan: ScanConfig{
			Concurrency: 4,
		},
		Aggregate: AggregateConfig{
			RefreshInterval: 5 * time.Minute,
			Persist:         true,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tessera"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Scan.Concurrency <= 0 {
		c.Scan.Concurrency = 4
	}
}

// CatalogPath returns the path to the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Table.Name == "" {
		return fmt.Errorf("table.name is required")
	}

	if c.Table.Policy != "left" && c.Table.Policy != "right" {
		return fmt.Errorf("invalid table.policy: %s (must be left or right)", c.Table.Policy)
	}

	if len(c.Table.Boundaries) == 0 && !c.Table.CatchAll {
		return fmt.Errorf("table.boundaries must be non-empty when table.catch_all is false")
	}

	switch c.Table.Scheme.Mode {
	case "single", "per_partition", "hash":
	default:
		return fmt.Errorf("invalid table.scheme.mode: %s (must be single, per_partition, or hash)", c.Table.Scheme.Mode)
	}

	if len(c.Table.Scheme.Locations) == 0 {
		return fmt.Errorf("table.scheme.locations must be non-empty")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Scan.Concurrency < 1 || c.Scan.Concurrency > 64 {
		return fmt.Errorf("scan.concurrency must be between 1 and 64, got %d", c.Scan.Concurrency)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TESSERA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TESSERA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Table configuration
	if v := os.Getenv("TESSERA_TABLE_NAME"); v != "" {
		cfg.Table.Name = v
	}
	if v := os.Getenv("TESSERA_TABLE_POLICY"); v != "" {
		cfg.Table.Policy = v
	}
	if v := os.Getenv("TESSERA_TABLE_CATCH_ALL"); v != "" {
		cfg.Table.CatchAll = v == "true" || v == "1"
	}
	if v := os.Getenv("TESSERA_TABLE_BOUNDARIES"); v != "" {
		cfg.Table.Boundaries = strings.Split(v, ",")
	}

	// HTTP configuration
	if v := os.Getenv("TESSERA_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Scan configuration
	if v := os.Getenv("TESSERA_SCAN_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Scan.Concurrency)
	}

	// Aggregate configuration
	if v := os.Getenv("TESSERA_AGGREGATE_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Aggregate.RefreshInterval = d
		}
	}

	// Storage configuration
	if v := os.Getenv("TESSERA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TESSERA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TESSERA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TESSERA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TESSERA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Storage.Path,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
