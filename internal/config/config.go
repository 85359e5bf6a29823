// Package config loads and validates the service configuration from a single
// YAML file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

// Duration accepts "2m"-style values in the YAML file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`

	KafkaBroker       string `yaml:"kafka_broker"`
	BuildJobsTopic    string `yaml:"build_jobs_topic"`
	BuildResultsTopic string `yaml:"build_results_topic"`

	StoragePath   string `yaml:"storage_path"`
	WatermarkText string `yaml:"watermark_text"`

	// AccountID pins the single-tenant account. Empty means a fresh id is
	// generated at startup.
	AccountID        string `yaml:"account_id"`
	FreeStorageBytes int64  `yaml:"free_storage_bytes"`

	WorkerCount     int      `yaml:"worker_count"`
	AssetTimeout    Duration `yaml:"asset_timeout"`
	MaxBatchSize    int      `yaml:"max_batch_size"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
	MaxImageDimPx   int      `yaml:"max_image_dim_px"`
	ThumbnailSizePx int      `yaml:"thumbnail_size_px"`

	StatusTTL      Duration `yaml:"status_ttl"`
	BatchRetention Duration `yaml:"batch_retention"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	BuildTimeout   Duration `yaml:"build_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Load(path string) (*Config, error) {
	const op = "config.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Default returns a configuration with every tunable at its default, for
// tests and tooling that do not read a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.BuildJobsTopic == "" {
		c.BuildJobsTopic = "site-build-jobs"
	}
	if c.BuildResultsTopic == "" {
		c.BuildResultsTopic = "site-build-results"
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data/assets"
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.AssetTimeout <= 0 {
		c.AssetTimeout = Duration(2 * time.Minute)
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 64 << 20 // 64 MiB per file
	}
	if c.MaxImageDimPx <= 0 {
		c.MaxImageDimPx = 12000
	}
	if c.ThumbnailSizePx <= 0 {
		c.ThumbnailSizePx = 400
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = Duration(5 * time.Minute)
	}
	if c.BatchRetention <= 0 {
		c.BatchRetention = Duration(24 * time.Hour)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = Duration(10 * time.Minute)
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = Duration(15 * time.Minute)
	}
	if c.FreeStorageBytes <= 0 {
		c.FreeStorageBytes = 100 << 30 // 100 GiB
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) Validate() error {
	if c.MaxBatchSize > 50 {
		return fmt.Errorf("max_batch_size: %d exceeds the product ceiling of 50", c.MaxBatchSize)
	}
	if c.StatusTTL.Std() < time.Second {
		return fmt.Errorf("status_ttl: %s is below one second", c.StatusTTL.Std())
	}
	if c.AssetTimeout.Std() < time.Second {
		return fmt.Errorf("asset_timeout: %s is below one second", c.AssetTimeout.Std())
	}
	if c.AccountID != "" {
		if _, err := uuid.Parse(c.AccountID); err != nil {
			return fmt.Errorf("account_id: %w", err)
		}
	}
	return nil
}
